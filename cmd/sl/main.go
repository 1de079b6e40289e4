package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"salesline/internal/auth"
	"salesline/internal/automation"
	"salesline/internal/config"
	"salesline/internal/criteria"
	"salesline/internal/domain"
	"salesline/internal/engine"
	"salesline/internal/logging"
	"salesline/internal/report"
	"salesline/internal/server"
	"salesline/internal/store"
	"salesline/internal/store/remote"
	"salesline/internal/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Salesline CLI",
	Long: `Salesline manages sales pipelines and the activities around them.
- Workspace: your .salesline directory holding the local record database;
  salesline.yml configures stages, automation, and the store backend.
- Pipelines: deals moving through ordered stages (Qualification through
  Negotiation/Review); closing is always an explicit win or lose.
- Automation: assign ownerless pipelines, create follow-up tasks for stale
  ones, advance pipelines matching a criterion, and surface stuck deals.
- Reports: stage/owner breakdowns, weighted forecasts, owner performance,
  and weekly activity counts.
- Store backends: the local sqlite workspace store or a remote Bigin
  account (store.backend in salesline.yml).`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SALESLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor recorded in stage history")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(contactCmd())
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(automationCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(serveCmd())
}

func actor() string {
	return viper.GetString("actor")
}

// withEngine opens the configured store backend and hands a wired engine
// to fn, closing the store afterwards.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(workspace, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	e := engine.New(st, cfg, logging.Logger())
	return fn(ctx, e)
}

func openStore(workspace string, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "remote":
		creds := &auth.OAuth{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenPath:    tokenPath(workspace, cfg),
			DataCenter:   cfg.Remote.DataCenter,
		}
		client := remote.New(cfg.Remote.DataCenter, creds, time.Duration(cfg.Remote.TimeoutSeconds)*time.Second)
		return client, func() {}, nil
	default:
		st, err := sqlite.Open(workspace)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	}
}

// tokenPath resolves the OAuth token cache location, defaulting to a
// hidden file in the workspace.
func tokenPath(workspace string, cfg *config.Config) string {
	if cfg.Auth.TokenFile != "" {
		return cfg.Auth.TokenFile
	}
	return filepath.Join(workspace, ".salesline-token.json")
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Manage remote API credentials"}

	var accessToken string
	var expiresIn int
	seed := &cobra.Command{
		Use:   "seed <refresh-token>",
		Short: "Store a refresh token for the remote backend",
		Long: `Store the refresh token obtained from the one-time grant exchange.
Subsequent remote calls renew the access token automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			path := tokenPath(workspace, cfg)
			var expiry time.Time
			if accessToken != "" {
				expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
			}
			if err := auth.Seed(path, accessToken, args[0], expiry); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	seed.Flags().StringVar(&accessToken, "access-token", "", "access token issued alongside the grant, if any")
	seed.Flags().IntVar(&expiresIn, "expires-in", 3600, "access token lifetime in seconds")
	cmd.AddCommand(seed)

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage workspace configuration"}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default salesline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Write(workspace, config.Default()); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	})

	return cmd
}

func pipelineCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "pipeline", Short: "Manage pipelines"}
	cmd.AddCommand(pipelineCreateCmd())
	cmd.AddCommand(pipelineGetCmd())
	cmd.AddCommand(pipelineListCmd())
	cmd.AddCommand(pipelineSearchCmd())
	cmd.AddCommand(pipelineUpdateCmd())
	cmd.AddCommand(pipelineAdvanceCmd())
	cmd.AddCommand(pipelineWinCmd())
	cmd.AddCommand(pipelineLoseCmd())
	cmd.AddCommand(pipelineBulkUpdateCmd())
	cmd.AddCommand(pipelineDeleteCmd())
	return cmd
}

func pipelineCreateCmd() *cobra.Command {
	var (
		stage, amount, closing, owner, contactID, companyID string
		probability                                         int
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in := engine.CreateInput{
					Name:      args[0],
					Stage:     stage,
					Owner:     owner,
					ContactID: contactID,
					CompanyID: companyID,
					Actor:     actor(),
				}
				if amount != "" {
					amt, err := decimal.NewFromString(amount)
					if err != nil {
						return fmt.Errorf("amount %q is not a number", amount)
					}
					in.Amount = amt
				}
				if closing != "" {
					date, err := time.Parse("2006-01-02", closing)
					if err != nil {
						return fmt.Errorf("closing date must look like 2006-01-02, got %q", closing)
					}
					in.ClosingDate = date
				}
				if cmd.Flags().Changed("probability") {
					in.Probability = &probability
				}
				p, err := e.Create(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "initial stage (default: first configured stage)")
	cmd.Flags().StringVar(&amount, "amount", "", "deal amount")
	cmd.Flags().IntVar(&probability, "probability", 0, "probability override (0-100)")
	cmd.Flags().StringVar(&closing, "closing-date", "", "expected close date (2006-01-02)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner email")
	cmd.Flags().StringVar(&contactID, "contact", "", "related contact id")
	cmd.Flags().StringVar(&companyID, "company", "", "related company id")
	return cmd
}

func pipelineGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func pipelineListCmd() *cobra.Command {
	var includeClosed bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pipelines, err := e.List(ctx, includeClosed, limit)
				if err != nil {
					return err
				}
				return printPipelines(pipelines)
			})
		},
	}
	cmd.Flags().BoolVar(&includeClosed, "all", false, "include won and lost pipelines")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pipelines to list")
	return cmd
}

func pipelineSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <word>",
		Short: "Keyword search over pipelines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pipelines, err := e.Search(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printPipelines(pipelines)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pipelines to return")
	return cmd
}

func pipelineUpdateCmd() *cobra.Command {
	var (
		name, stage, amount, closing, owner, contactID, companyID string
		probability                                               int
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update pipeline fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in := engine.UpdateInput{Actor: actor()}
				flags := cmd.Flags()
				if flags.Changed("name") {
					in.Name = &name
				}
				if flags.Changed("stage") {
					in.Stage = &stage
				}
				if flags.Changed("owner") {
					in.Owner = &owner
				}
				if flags.Changed("contact") {
					in.ContactID = &contactID
				}
				if flags.Changed("company") {
					in.CompanyID = &companyID
				}
				if flags.Changed("probability") {
					in.Probability = &probability
				}
				if flags.Changed("amount") {
					amt, err := decimal.NewFromString(amount)
					if err != nil {
						return fmt.Errorf("amount %q is not a number", amount)
					}
					in.Amount = &amt
				}
				if flags.Changed("closing-date") {
					date, err := time.Parse("2006-01-02", closing)
					if err != nil {
						return fmt.Errorf("closing date must look like 2006-01-02, got %q", closing)
					}
					in.ClosingDate = &date
				}
				p, err := e.Update(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&stage, "stage", "", "new stage")
	cmd.Flags().StringVar(&amount, "amount", "", "new amount")
	cmd.Flags().IntVar(&probability, "probability", 0, "new probability (0-100)")
	cmd.Flags().StringVar(&closing, "closing-date", "", "new close date (2006-01-02)")
	cmd.Flags().StringVar(&owner, "owner", "", "new owner email")
	cmd.Flags().StringVar(&contactID, "contact", "", "related contact id")
	cmd.Flags().StringVar(&companyID, "company", "", "related company id")
	return cmd
}

func pipelineAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <id>",
		Short: "Move a pipeline to its next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Advance(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func pipelineWinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "win <id>",
		Short: "Close a pipeline as won",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Win(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func pipelineLoseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "lose <id>",
		Short: "Close a pipeline as lost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Lose(ctx, args[0], reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "loss reason (required)")
	return cmd
}

func pipelineBulkUpdateCmd() *cobra.Command {
	var (
		criteriaName, stage, owner string
		probability, workers       int
	)
	cmd := &cobra.Command{
		Use:   "bulk-update",
		Short: "Update every pipeline a criterion selects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				expr, err := criteria.Resolve(criteriaName)
				if err != nil {
					return err
				}
				in := engine.UpdateInput{Actor: actor()}
				flags := cmd.Flags()
				if flags.Changed("stage") {
					in.Stage = &stage
				}
				if flags.Changed("owner") {
					in.Owner = &owner
				}
				if flags.Changed("probability") {
					in.Probability = &probability
				}
				res, err := e.BulkUpdate(ctx, expr, in, workers)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&criteriaName, "criteria", "", "criterion name or Field:op:value list")
	cmd.Flags().StringVar(&stage, "stage", "", "stage to set")
	cmd.Flags().StringVar(&owner, "owner", "", "owner to set")
	cmd.Flags().IntVar(&probability, "probability", 0, "probability to set")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (default from config)")
	_ = cmd.MarkFlagRequired("criteria")
	return cmd
}

func pipelineDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func contactCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "contact", Short: "Manage contacts"}

	var first, email, phone, companyID, owner string
	create := &cobra.Command{
		Use:   "create <last-name>",
		Short: "Create a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateContact(ctx, domain.Contact{
					FirstName: first,
					LastName:  args[0],
					Email:     email,
					Phone:     phone,
					CompanyID: companyID,
					Owner:     owner,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	create.Flags().StringVar(&first, "first-name", "", "first name")
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&phone, "phone", "", "phone number")
	create.Flags().StringVar(&companyID, "company", "", "company id")
	create.Flags().StringVar(&owner, "owner", "", "owner email")
	cmd.AddCommand(create)

	var upFirst, upLast, upEmail, upPhone, upCompany, upOwner string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update contact fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var in engine.ContactUpdate
				flags := cmd.Flags()
				if flags.Changed("first-name") {
					in.FirstName = &upFirst
				}
				if flags.Changed("last-name") {
					in.LastName = &upLast
				}
				if flags.Changed("email") {
					in.Email = &upEmail
				}
				if flags.Changed("phone") {
					in.Phone = &upPhone
				}
				if flags.Changed("company") {
					in.CompanyID = &upCompany
				}
				if flags.Changed("owner") {
					in.Owner = &upOwner
				}
				c, err := e.UpdateContact(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	update.Flags().StringVar(&upFirst, "first-name", "", "first name")
	update.Flags().StringVar(&upLast, "last-name", "", "last name")
	update.Flags().StringVar(&upEmail, "email", "", "email address")
	update.Flags().StringVar(&upPhone, "phone", "", "phone number")
	update.Flags().StringVar(&upCompany, "company", "", "company id")
	update.Flags().StringVar(&upOwner, "owner", "", "owner email")
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetContact(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "search <word>",
		Short: "Keyword search over contacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				contacts, err := e.SearchContacts(ctx, args[0], 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(contacts)
			})
		},
	})

	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				contacts, err := e.SearchContacts(ctx, "", listLimit)
				if err != nil {
					return err
				}
				return printJSONOrTable(contacts)
			})
		},
	}
	list.Flags().IntVar(&listLimit, "limit", 0, "maximum number of rows")
	cmd.AddCommand(list)

	return cmd
}

func companyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "company", Short: "Manage companies"}

	var website, phone, industry, owner string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCompany(ctx, domain.Company{
					Name:     args[0],
					Website:  website,
					Phone:    phone,
					Industry: industry,
					Owner:    owner,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	create.Flags().StringVar(&website, "website", "", "website URL")
	create.Flags().StringVar(&phone, "phone", "", "phone number")
	create.Flags().StringVar(&industry, "industry", "", "industry")
	create.Flags().StringVar(&owner, "owner", "", "owner email")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetCompany(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "search <word>",
		Short: "Keyword search over companies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				companies, err := e.SearchCompanies(ctx, args[0], 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(companies)
			})
		},
	})

	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List companies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				companies, err := e.SearchCompanies(ctx, "", listLimit)
				if err != nil {
					return err
				}
				return printJSONOrTable(companies)
			})
		},
	}
	list.Flags().IntVar(&listLimit, "limit", 0, "maximum number of rows")
	cmd.AddCommand(list)

	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}

	var due, priority, owner, pipelineID string
	create := &cobra.Command{
		Use:   "create <subject>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t := domain.Task{
					Subject:  args[0],
					Priority: priority,
					Owner:    owner,
				}
				if due != "" {
					date, err := time.Parse("2006-01-02", due)
					if err != nil {
						return fmt.Errorf("due date must look like 2006-01-02, got %q", due)
					}
					t.DueDate = date
				}
				if pipelineID != "" {
					t.Related = domain.RelatedRef{Collection: string(store.Pipelines), ID: pipelineID}
				}
				created, err := e.CreateTask(ctx, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	create.Flags().StringVar(&due, "due", "", "due date (2006-01-02)")
	create.Flags().StringVar(&priority, "priority", "Normal", "priority")
	create.Flags().StringVar(&owner, "owner", "", "owner email")
	create.Flags().StringVar(&pipelineID, "pipeline", "", "related pipeline id")
	cmd.AddCommand(create)

	var listOwner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, listOwner, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(tasks)
			})
		},
	}
	list.Flags().StringVar(&listOwner, "owner", "", "filter by owner")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CloseTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	})

	return cmd
}

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "event", Short: "Manage events"}

	var start, end, location, owner, pipelineID string
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev := domain.Event{Title: args[0], Location: location, Owner: owner}
				startsAt, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("start must be RFC 3339, got %q", start)
				}
				ev.StartsAt = startsAt
				if end != "" {
					endsAt, err := time.Parse(time.RFC3339, end)
					if err != nil {
						return fmt.Errorf("end must be RFC 3339, got %q", end)
					}
					ev.EndsAt = endsAt
				}
				if pipelineID != "" {
					ev.Related = domain.RelatedRef{Collection: string(store.Pipelines), ID: pipelineID}
				}
				created, err := e.CreateEvent(ctx, ev)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	create.Flags().StringVar(&start, "start", "", "start time (RFC 3339)")
	create.Flags().StringVar(&end, "end", "", "end time (RFC 3339)")
	create.Flags().StringVar(&location, "location", "", "location")
	create.Flags().StringVar(&owner, "owner", "", "owner email")
	create.Flags().StringVar(&pipelineID, "pipeline", "", "related pipeline id")
	_ = create.MarkFlagRequired("start")
	cmd.AddCommand(create)

	var listOwner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, listOwner, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	list.Flags().StringVar(&listOwner, "owner", "", "filter by owner")
	cmd.AddCommand(list)

	return cmd
}

func callCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "call", Short: "Log and list calls"}

	var minutes int
	var result, owner, pipelineID string
	logCmd := &cobra.Command{
		Use:   "log <subject>",
		Short: "Log a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c := domain.Call{
					Subject: args[0],
					Minutes: minutes,
					Result:  result,
					Owner:   owner,
				}
				if pipelineID != "" {
					c.Related = domain.RelatedRef{Collection: string(store.Pipelines), ID: pipelineID}
				}
				logged, err := e.LogCall(ctx, c)
				if err != nil {
					return err
				}
				return printJSONOrTable(logged)
			})
		},
	}
	logCmd.Flags().IntVar(&minutes, "minutes", 0, "call duration in minutes")
	logCmd.Flags().StringVar(&result, "result", "", "call outcome")
	logCmd.Flags().StringVar(&owner, "owner", "", "owner email")
	logCmd.Flags().StringVar(&pipelineID, "pipeline", "", "related pipeline id")
	cmd.AddCommand(logCmd)

	var listOwner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				calls, err := e.ListCalls(ctx, listOwner, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(calls)
			})
		},
	}
	list.Flags().StringVar(&listOwner, "owner", "", "filter by owner")
	cmd.AddCommand(list)

	return cmd
}

func automationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "automation", Short: "Run automation routines"}

	var owners []string
	assign := &cobra.Command{
		Use:   "assign",
		Short: "Assign ownerless pipelines round-robin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := automation.New(e).AssignUnassigned(ctx, owners)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	assign.Flags().StringSliceVar(&owners, "owners", nil, "owner emails to rotate through")
	_ = assign.MarkFlagRequired("owners")
	cmd.AddCommand(assign)

	var staleDays int
	followUp := &cobra.Command{
		Use:   "follow-up",
		Short: "Create follow-up tasks for stale pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, res, err := automation.New(e).FollowUp(ctx, staleDays)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"result": res, "tasks": tasks})
			})
		},
	}
	followUp.Flags().IntVar(&staleDays, "stale-days", 0, "staleness threshold in days (default from config)")
	cmd.AddCommand(followUp)

	var criteriaName string
	advance := &cobra.Command{
		Use:   "advance",
		Short: "Advance pipelines matching a criterion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := automation.New(e).AutoAdvance(ctx, criteriaName, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	advance.Flags().StringVar(&criteriaName, "criteria", "", "criterion name or Field:op:value list")
	_ = advance.MarkFlagRequired("criteria")
	cmd.AddCommand(advance)

	var days int
	stuck := &cobra.Command{
		Use:   "stuck",
		Short: "List pipelines stuck in their stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := automation.New(e).Stuck(ctx, days)
				if err != nil {
					return err
				}
				return printStuck(result)
			})
		},
	}
	stuck.Flags().IntVar(&days, "days", 0, "days threshold (default from config)")
	cmd.AddCommand(stuck)

	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Generate reports"}

	var byStage, byOwner, includeClosed bool
	pipeline := &cobra.Command{
		Use:   "pipeline",
		Short: "Pipeline summary report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !byStage && !byOwner {
					byStage, byOwner = true, true
				}
				rep, err := report.New(e).Pipeline(ctx, byStage, byOwner, includeClosed)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	pipeline.Flags().BoolVar(&byStage, "by-stage", false, "group by stage")
	pipeline.Flags().BoolVar(&byOwner, "by-owner", false, "group by owner")
	pipeline.Flags().BoolVar(&includeClosed, "all", false, "include won and lost pipelines")
	cmd.AddCommand(pipeline)

	var perfOwner, perfMonth string
	performance := &cobra.Command{
		Use:   "performance",
		Short: "Owner performance report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := report.New(e).Performance(ctx, perfOwner, perfMonth)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	performance.Flags().StringVar(&perfOwner, "owner", "", "owner email (default: everyone)")
	performance.Flags().StringVar(&perfMonth, "month", "", "closing month (2006-01; default: all time)")
	cmd.AddCommand(performance)

	var user, week string
	var noCalls, noTasks, noEvents bool
	activity := &cobra.Command{
		Use:   "activity",
		Short: "Weekly activity report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := report.New(e).Activity(ctx, user, week, !noCalls, !noTasks, !noEvents)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	activity.Flags().StringVar(&user, "user", "", "owner email (default: everyone)")
	activity.Flags().StringVar(&week, "week", "", "ISO week (2026-35; default: current)")
	activity.Flags().BoolVar(&noCalls, "no-calls", false, "skip calls")
	activity.Flags().BoolVar(&noTasks, "no-tasks", false, "skip tasks")
	activity.Flags().BoolVar(&noEvents, "no-events", false, "skip events")
	cmd.AddCommand(activity)

	return cmd
}

func forecastCmd() *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Weighted revenue forecast",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := report.New(e).Forecast(ctx, month)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "closing month (2006-01; default: all open pipelines)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			st, closeStore, err := openStore(workspace, cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			e := engine.New(st, cfg, logging.Logger())

			secret := os.Getenv("SALESLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("SALESLINE_JWT_SECRET is required for bearer auth")
			}
			handler := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
			})
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Salesline API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func printPipelines(pipelines []domain.Pipeline) error {
	if viper.GetBool("json") {
		return printJSON(pipelines)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Stage", "Status", "Amount", "Prob", "Owner", "Closing"})
	for _, p := range pipelines {
		closing := ""
		if !p.ClosingDate.IsZero() {
			closing = p.ClosingDate.Format("2006-01-02")
		}
		tw.AppendRow(table.Row{p.ID, p.Name, p.Stage, p.Status, p.Amount.String(), p.Probability, p.Owner, closing})
	}
	tw.Render()
	return nil
}

func printStuck(stuck []automation.StuckPipeline) error {
	if viper.GetBool("json") {
		return printJSON(stuck)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Stage", "Days", "Owner", "Suggestion"})
	for _, s := range stuck {
		tw.AppendRow(table.Row{s.ID, s.Name, s.Stage, s.DaysInStage, s.Owner, s.Suggestion})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
