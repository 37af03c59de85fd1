package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"expedify/internal/config"
	"expedify/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	if err := db.AutoMigrate(
		&models.Company{},
		&models.Client{},
		&models.Project{},
		&models.Invoice{},
		&models.FollowUp{},
		&models.Dispute{},
		&models.AutomationRule{},
		&models.AutomationLogEntry{},
		&models.PaymentPromise{},
		&models.CollectionTask{},
	); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

// seedDefaultData inserts a demo tenant with one overdue invoice and a
// starter rule set so a fresh install has something to evaluate.
func seedDefaultData(db *gorm.DB) {
	var company models.Company
	if err := db.Where("name = ?", "Acme Permit Expediting").First(&company).Error; err != nil {
		company = models.Company{
			Name:  "Acme Permit Expediting",
			Email: "office@acme-permits.example",
		}
		db.Create(&company)
		log.Println("Created demo company")
	}

	var client models.Client
	if err := db.Where("company_id = ? AND name = ?", company.ID, "Hudson Builders LLC").First(&client).Error; err != nil {
		client = models.Client{
			CompanyID: company.ID,
			Name:      "Hudson Builders LLC",
			Email:     "ap@hudsonbuilders.example",
		}
		db.Create(&client)

		project := models.Project{
			CompanyID: company.ID,
			ClientID:  client.ID,
			Name:      "125 Main St Renovation",
			Address:   "125 Main St",
		}
		db.Create(&project)

		invoice := models.Invoice{
			CompanyID:     company.ID,
			ClientID:      client.ID,
			ProjectID:     project.ID,
			InvoiceNumber: "INV-1001",
			Status:        models.InvoiceStatusOverdue,
			TotalDue:      4200,
			DueDate:       time.Now().AddDate(0, 0, -45),
		}
		db.Create(&invoice)
		log.Println("Created demo client, project and invoice")
	}

	var rule models.AutomationRule
	if err := db.Where("company_id = ? AND name = ?", company.ID, "30-day reminder").First(&rule).Error; err != nil {
		rule = models.AutomationRule{
			CompanyID:     company.ID,
			Name:          "30-day reminder",
			Enabled:       true,
			Priority:      1,
			TriggerType:   models.TriggerDaysOverdue,
			TriggerValue:  30,
			ActionType:    models.ActionGenerateReminder,
			ActionConfig:  `{"tone":"friendly"}`,
			CooldownHours: 72,
		}
		db.Create(&rule)

		escalation := models.AutomationRule{
			CompanyID:     company.ID,
			Name:          "90-day escalation",
			Enabled:       true,
			Priority:      2,
			TriggerType:   models.TriggerDaysOverdue,
			TriggerValue:  90,
			ActionType:    models.ActionEscalate,
			ActionConfig:  `{"escalate_to":"collections manager"}`,
			CooldownHours: 168,
			MaxExecutions: 3,
		}
		db.Create(&escalation)
		log.Println("Created starter rules")
	}
}
