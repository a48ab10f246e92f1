package handlers

import (
	"log"
	"testing"

	"partypick-backend/auth"
	"partypick-backend/database"
	"partypick-backend/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestEnvironment sets up the Gin router and in-memory SQLite database for testing.
func SetupTestEnvironment(t *testing.T) (*gin.Engine, *gorm.DB) {
	testing.Init()
	gin.SetMode(gin.TestMode)

	// Use in-memory SQLite for testing
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		// Silence GORM logger for tests unless needed
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	database.DB = db

	// Migrate the schema
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Providers are injected per-test; default to none so external calls
	// never happen in tests.
	InitProviders(nil, nil)
	InitHandler(nil)

	t.Cleanup(func() {
		InitProviders(nil, nil)
		sqlDB, _ := database.DB.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	// Setup Router
	router := gin.Default()
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Session-Id"}
	router.Use(cors.New(config))

	// Setup Routes (same as in routes/router.go, minus rate limiting)
	api := router.Group("/api")
	api.Use(auth.SessionMiddleware())
	{
		api.POST("/parties", CreateParty)
		api.GET("/parties/:code", GetParty)
		api.POST("/parties/:code/vibes", AddVibe)
		api.GET("/parties/:code/vibes", GetVibes)
		api.POST("/parties/:code/restaurants", AddRestaurants)
		api.GET("/parties/:code/restaurants", GetRestaurants)
		api.POST("/parties/:code/restaurants/:id/vote", VoteRestaurant)
		api.GET("/parties/:code/voting", GetVotingCandidates)
		api.POST("/parties/:code/voting/select", SelectVotingCandidates)
		api.POST("/parties/:code/voting/add", AddVotingCandidate)
		api.POST("/parties/:code/voting/remove", RemoveVotingCandidate)
		api.POST("/parties/:code/voting/clear", ClearVotingCandidates)
		api.POST("/parties/:code/voting/ballot", SubmitBallot)
		api.POST("/parties/:code/voting/:id/vote", VoteCandidate)
		// Live-update endpoints are covered by integration tests
	}

	return router, db
}

// ClearTables clears all party data between tests.
func ClearTables(db *gorm.DB) {
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Ballot{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.VotingCandidate{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Restaurant{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Vibe{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Party{})
}
