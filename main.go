package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"labelstudio/labeling"
)

// Global Variables and Constants
var (

	// Logger
	log = logrus.New()

	userAgent = "labelstudio/1.0"

	// Environment Variables
	docStoreBaseURL           string
	docStoreAPIToken          string
	docStoreMode              string
	docStoreRequestsPerMinute float64
	databaseURL               string
	listenAddress             string
	persistWorkers            int
	logLevel                  string
)

// App struct to hold dependencies
type App struct {
	Store      labeling.DocumentStore
	Database   *gorm.DB
	Images     *ImageResolver
	Dispatcher labeling.Dispatcher
	JobStore   *JobStore
	Sessions   *SessionRegistry
}

func main() {
	// A .env file is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}
	readEnvVars()

	// Validate Environment Variables
	validateEnvVars()

	// Initialize logrus logger
	initLogger()

	// Initialize Database
	database := InitializeDB(databaseURL)

	// Load Settings
	loadSettings()

	// Initialize the document store
	var store labeling.DocumentStore
	switch docStoreMode {
	case "local":
		store = NewLocalDocumentStore(database, currentSettings().adapter())
		log.Infoln("Using the local document store")
	default:
		store = NewDocStoreClient(docStoreBaseURL, docStoreAPIToken, docStoreRequestsPerMinute)
		log.Infof("Using the document store at %s", docStoreBaseURL)
	}

	dispatcher := newJobDispatcher(jobStore, jobQueue, database)

	// Initialize App with dependencies
	app := &App{
		Store:      store,
		Database:   database,
		Images:     NewImageResolver(nil),
		Dispatcher: dispatcher,
		JobStore:   jobStore,
		Sessions:   newSessionRegistry(),
	}

	// Start persistence worker pool
	startWorkerPool(dispatcher, persistWorkers)

	// Start background process for sessions waiting on extraction results
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartBackgroundTasks(ctx, app)

	router := setupRouter(app)

	log.Infof("Server started on %s", listenAddress)
	if err := router.Run(listenAddress); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// setupRouter registers the API routes on a gin engine with the default
// middleware (logger and recovery).
func setupRouter(app *App) *gin.Engine {
	router := gin.Default()

	api := router.Group("/api")
	{
		// Labeling sessions
		api.POST("/sessions", app.createSessionHandler)
		api.GET("/sessions/:id", app.getSessionHandler)
		api.POST("/sessions/:id/document", app.selectDocumentHandler)
		api.POST("/sessions/:id/pages/next", app.nextPageHandler)
		api.POST("/sessions/:id/pages/prev", app.prevPageHandler)
		api.POST("/sessions/:id/pages/:page", app.goToPageHandler)
		api.GET("/sessions/:id/pages/:page/hocr", app.hocrHandler)
		api.GET("/sessions/:id/pages/:page/preview", app.previewHandler)
		api.PUT("/sessions/:id/mode", app.setModeHandler)

		// Labels
		api.POST("/sessions/:id/labels", app.addLabelHandler)
		api.PATCH("/sessions/:id/labels/:label_id", app.updateLabelHandler)
		api.DELETE("/sessions/:id/labels/:label_id", app.deleteLabelHandler)
		api.POST("/sessions/:id/fields/:field/edit", app.startEditFieldHandler)
		api.POST("/sessions/:id/pointer", app.pointerHandler)

		api.POST("/sessions/:id/commit", app.commitHandler)
		api.POST("/sessions/:id/approval", app.approvalHandler)
		api.GET("/sessions/:id/notifications", app.notificationsHandler)

		// Persistence jobs
		api.GET("/jobs/persist/:job_id", app.getJobStatusHandler)
		api.GET("/jobs/persist", app.getAllJobsHandler)

		// Local db actions
		api.GET("/documents/:document_id/commits", app.getCommitHistoryHandler)

		api.GET("/settings", getSettingsHandler)
		api.POST("/settings", updateSettingsHandler)

		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": docStoreMode})
		})
	}

	return router
}

// readEnvVars loads the configuration from the environment
func readEnvVars() {
	docStoreBaseURL = os.Getenv("DOCSTORE_BASE_URL")
	docStoreAPIToken = os.Getenv("DOCSTORE_API_TOKEN")
	docStoreMode = strings.ToLower(getEnvOrDefault("DOCSTORE_MODE", "remote"))
	databaseURL = os.Getenv("DATABASE_URL")
	listenAddress = getEnvOrDefault("LISTEN_ADDRESS", ":8080")
	logLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))

	docStoreRequestsPerMinute = 120
	if v := os.Getenv("DOCSTORE_REQUESTS_PER_MINUTE"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			log.Fatalf("Invalid DOCSTORE_REQUESTS_PER_MINUTE: '%s'.", v)
		}
		docStoreRequestsPerMinute = parsed
	}

	persistWorkers = 2
	if v := os.Getenv("PERSIST_WORKERS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			log.Fatalf("Invalid PERSIST_WORKERS: '%s'.", v)
		}
		persistWorkers = parsed
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(level string) (logrus.Level, bool) {
	switch level {
	case "debug":
		return logrus.DebugLevel, true
	case "info", "":
		return logrus.InfoLevel, true
	case "warn":
		return logrus.WarnLevel, true
	case "error":
		return logrus.ErrorLevel, true
	default:
		return logrus.InfoLevel, false
	}
}

func initLogger() {
	level, ok := parseLogLevel(logLevel)
	log.SetLevel(level)
	logger.SetLevel(level)
	labeling.SetLogLevel(level)
	if !ok {
		log.Fatalf("Invalid log level: '%s'.", logLevel)
	}

	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// validateEnvVars ensures all necessary environment variables are set
func validateEnvVars() {
	switch docStoreMode {
	case "remote":
		if docStoreBaseURL == "" {
			log.Fatal("Please set the DOCSTORE_BASE_URL environment variable.")
		}
		if docStoreAPIToken == "" {
			log.Fatal("Please set the DOCSTORE_API_TOKEN environment variable.")
		}
	case "local":
	default:
		log.Fatal("Please set the DOCSTORE_MODE environment variable to 'remote' or 'local'.")
	}
}
