package main

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/models"
)

func main() {
	db, err := gorm.Open(sqlite.Open("./data/sentinel.db"), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.NotificationPreferences{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	fmt.Println("✓ Database migrated successfully")

	// Seed the operator account
	var adminCount int64
	db.Model(&models.User{}).Where("role = ?", "admin").Count(&adminCount)
	if adminCount == 0 {
		admin := models.User{
			Email:   "admin@example.com",
			Name:    "Administrator",
			Role:    "admin",
			Enabled: true,
		}
		if err := admin.SetPassword("changeme123"); err != nil {
			log.Fatal("Failed to hash admin password:", err)
		}
		if err := db.Create(&admin).Error; err != nil {
			log.Fatal("Failed to create admin user:", err)
		}
		fmt.Println("✓ Admin user created (admin@example.com / changeme123)")
	} else {
		fmt.Println("✓ Admin user already exists, skipping")
	}

	// Seed demo organizations with memberships for local development
	orgs := []models.Organization{
		{UUID: uuid.NewString(), Name: "Acme Corp"},
		{UUID: uuid.NewString(), Name: "Globex"},
	}
	for i := range orgs {
		var existing models.Organization
		if err := db.Where("name = ?", orgs[i].Name).First(&existing).Error; err == nil {
			orgs[i] = existing
			continue
		}
		if err := db.Create(&orgs[i]).Error; err != nil {
			log.Fatal("Failed to create organization:", err)
		}
	}
	fmt.Println("✓ Demo organizations created")

	members := []models.OrganizationMember{
		{OrganizationUUID: orgs[0].UUID, UserID: "user_demo_alice", Role: "admin"},
		{OrganizationUUID: orgs[0].UUID, UserID: "user_demo_bob", Role: "member"},
		{OrganizationUUID: orgs[1].UUID, UserID: "user_demo_carol", Role: "member"},
	}
	for _, m := range members {
		var count int64
		db.Model(&models.OrganizationMember{}).
			Where("organization_uuid = ? AND user_id = ?", m.OrganizationUUID, m.UserID).
			Count(&count)
		if count == 0 {
			if err := db.Create(&m).Error; err != nil {
				log.Fatal("Failed to create membership:", err)
			}
		}
	}
	fmt.Println("✓ Demo memberships created")

	// Default notification preferences for the demo users
	for _, userID := range []string{"user_demo_alice", "user_demo_bob", "user_demo_carol"} {
		var count int64
		db.Model(&models.NotificationPreferences{}).Where("user_id = ?", userID).Count(&count)
		if count == 0 {
			prefs := models.DefaultPreferences(userID)
			if err := db.Create(prefs).Error; err != nil {
				log.Fatal("Failed to create notification preferences:", err)
			}
		}
	}
	fmt.Println("✓ Notification preferences seeded")

	fmt.Println("Seed complete")
}
