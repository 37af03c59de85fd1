package main

import (
	"context"
	"fmt"

	"expedify/internal/config"
	"expedify/internal/models"
	"expedify/internal/services"
	"expedify/pkg/llm"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var runCompanyID uint

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one collections engine pass",
	Long: `Execute a single pass of the collections automation engine and exit.
With --company it processes one tenant; otherwise every tenant with enabled
rules is processed. Intended as a cron entry point.`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().UintVar(&runCompanyID, "company", 0, "company id to process (0 = all)")
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	logger := logrus.StandardLogger()

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(
		&models.Company{}, &models.Client{}, &models.Project{}, &models.Invoice{},
		&models.FollowUp{}, &models.Dispute{},
		&models.AutomationRule{}, &models.AutomationLogEntry{},
		&models.PaymentPromise{}, &models.CollectionTask{},
	); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	generator := llm.NewClient(&llm.Config{
		BaseURL:     cfg.AI.OpenAI.BaseURL,
		APIKey:      cfg.AI.OpenAI.APIKey,
		Model:       cfg.AI.OpenAI.Model,
		Temperature: cfg.AI.OpenAI.Temperature,
		MaxTokens:   cfg.AI.OpenAI.MaxTokens,
		Timeout:     cfg.AI.OpenAI.Timeout,
		MaxRetries:  cfg.AI.OpenAI.MaxRetries,
		RetryDelay:  cfg.AI.OpenAI.RetryDelay,
	}, logger)

	engine := services.NewCollectionsEngine(db, logger, generator, nil, cfg.Engine.Approval)
	summary, err := engine.Run(context.Background(), runCompanyID)
	if err != nil {
		return err
	}

	fmt.Printf("processed=%d rules_evaluated=%d\n", summary.Processed, summary.RulesEvaluated)
	return nil
}
