package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"bookstore/auth"
	"bookstore/config"
	"bookstore/models"
	"bookstore/services"
	"bookstore/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	csvRowsIngested   *prometheus.CounterVec
	csvRatingsDropped prometheus.Counter
)

func init() {
	csvRowsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csv_rows_ingested_total",
			Help: "Total number of rows persisted by the CSV ingestion pipeline.",
		},
		[]string{"entity"},
	)
	csvRatingsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "csv_ratings_dropped_total",
			Help: "Total number of rating rows dropped because the referenced book or user is missing.",
		},
	)
	prometheus.MustRegister(csvRowsIngested, csvRatingsDropped)
}

// recordIngestMetrics zählt die Counts eines Pipeline-Laufs auf die
// Prometheus-Counter, unabhängig davon, ob der Lauf per Upload oder per
// Verzeichnis-Sweep angestoßen wurde.
func recordIngestMetrics(result *services.UploadResult) {
	csvRowsIngested.WithLabelValues("authors").Add(float64(result.Authors))
	csvRowsIngested.WithLabelValues("publishers").Add(float64(result.Publishers))
	csvRowsIngested.WithLabelValues("books").Add(float64(result.Books))
	csvRowsIngested.WithLabelValues("users").Add(float64(result.Users))
	csvRowsIngested.WithLabelValues("ratings").Add(float64(result.Ratings))
	csvRatingsDropped.Add(float64(result.DroppedRatings))
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to catalog database.")

	// Auto-Migration
	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(
		&models.Author{},
		&models.Publisher{},
		&models.Book{},
		&models.User{},
		&models.Address{},
		&models.Rating{},
	); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Setup Services
	uploader := services.NewUploadService(cfg, db, logging)
	tokenClient := auth.NewTokenClient(cfg, logging)

	var s3Client *s3.Client
	if cfg.ArchiveEnabled {
		s3Client, err = storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
	}

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupUploadRoutes(router, uploader, s3Client, cfg, logging)
	setupBookRoutes(router, db, logging)
	setupAuthorRoutes(router, db, logging)
	setupPublisherRoutes(router, db, logging)
	setupUserRoutes(router, db, logging)
	setupAuthRoutes(router, tokenClient, logging)

	// Setup Cron: Import-Verzeichnis regelmäßig abräumen
	if cfg.ImportDir != "" {
		cronScheduler := cron.New()
		cronScheduler.AddFunc(cfg.ImportCronSchedule, func() {
			logging.Info("Running scheduled import sweep...", zap.String("dir", cfg.ImportDir))
			summary, err := uploader.RunImportDir(context.Background(), cfg.ImportDir)
			if err != nil {
				logging.Error("Import sweep failed", zap.Error(err))
			} else {
				recordIngestMetrics(&summary.Totals)
				logging.Info("Import sweep completed", zap.Int("imported_files", summary.Files))
			}
		})
		cronScheduler.Start()
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// pageParams liest page/size aus den Query-Parametern, mit Defaults und
// Obergrenze für die Seitengröße.
func pageParams(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 0 {
		page = 0
	}
	if size <= 0 || size > 200 {
		size = 20
	}
	return page, size
}

func pageEnvelope(content any, page, size int, total int64) gin.H {
	return gin.H{
		"content":        content,
		"page":           page,
		"size":           size,
		"total_elements": total,
	}
}

// setupUploadRoutes konfiguriert den CSV-Upload-Endpunkt der
// Ingestion-Pipeline.
func setupUploadRoutes(router *gin.Engine, uploader *services.UploadService, s3Client *s3.Client, cfg *config.Config, log *zap.Logger) {
	processors := map[string]func(context.Context, io.Reader) (*services.UploadResult, error){
		"books":   uploader.ProcessBooksFile,
		"users":   uploader.ProcessUsersFile,
		"ratings": uploader.ProcessRatingsFile,
	}

	router.POST("/csv/upload/:type", func(c *gin.Context) {
		kind := c.Param("type")
		process, ok := processors[kind]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown upload type"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "form field 'file' is required"})
			return
		}
		// Der deklarierte Content-Type muss exakt text/csv sein, sonst
		// wird kein einziges Byte geparst.
		if ct := fileHeader.Header.Get("Content-Type"); ct != "text/csv" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "not a csv file"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			log.Error("Failed to open uploaded file", zap.String("type", kind), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
			return
		}
		defer file.Close()

		// Für die Archivierung werden die Rohdaten gepuffert, die
		// Pipeline liest dann aus dem Puffer.
		var raw []byte
		var reader io.Reader = file
		if s3Client != nil {
			raw, err = io.ReadAll(file)
			if err != nil {
				log.Error("Failed to buffer uploaded file", zap.String("type", kind), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
				return
			}
			reader = bytes.NewReader(raw)
		}

		result, err := process(c.Request.Context(), reader)
		if err != nil {
			if errors.Is(err, services.ErrMalformedFile) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Error("Upload processing failed", zap.String("type", kind), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process file"})
			return
		}

		recordIngestMetrics(result)

		if s3Client != nil {
			key := fmt.Sprintf("uploads/%s-%s.csv", kind, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
			if _, err := storage.UploadFile(c.Request.Context(), s3Client, cfg.ArchiveS3Bucket, key, raw, cfg); err != nil {
				// Archivierung ist Best-Effort und kippt den Request nicht.
				log.Warn("Failed to archive uploaded file", zap.String("key", key), zap.Error(err))
			}
		}

		c.JSON(http.StatusOK, result)
	})
}

// bookWithRating erweitert ein Buch um seine Durchschnittsbewertung.
type bookWithRating struct {
	models.Book
	Rating float64 `json:"rating"`
}

// averageRatings liefert die Durchschnittsbewertung pro ISBN.
func averageRatings(db *gorm.DB, isbns []string) (map[string]float64, error) {
	if len(isbns) == 0 {
		return map[string]float64{}, nil
	}
	var rows []struct {
		BookISBN string
		Avg      float64
	}
	err := db.Model(&models.Rating{}).
		Select("book_isbn, ROUND(AVG(score)::numeric, 2) AS avg").
		Where("book_isbn IN ?", isbns).
		Group("book_isbn").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	averages := make(map[string]float64, len(rows))
	for _, r := range rows {
		averages[r.BookISBN] = r.Avg
	}
	return averages, nil
}

func setupBookRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/v1/books")

	rg.GET("", func(c *gin.Context) {
		page, size := pageParams(c)

		query := db.Model(&models.Book{})
		if title := c.Query("title"); title != "" {
			query = query.Where("title ILIKE ?", "%"+title+"%")
		}
		if authorID := c.Query("author_id"); authorID != "" {
			query = query.Where("author_id = ?", authorID)
		}
		if publisherID := c.Query("publisher_id"); publisherID != "" {
			query = query.Where("publisher_id = ?", publisherID)
		}
		if year := c.Query("year"); year != "" {
			query = query.Where("year = ?", year)
		}

		var total int64
		if err := query.Count(&total).Error; err != nil {
			log.Error("Database count for books failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var books []models.Book
		if err := query.Preload("Author").Preload("Publisher").
			Order("id").Offset(page * size).Limit(size).
			Find(&books).Error; err != nil {
			log.Error("Database query for books failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		isbns := make([]string, 0, len(books))
		for _, b := range books {
			isbns = append(isbns, b.ISBN)
		}
		averages, err := averageRatings(db, isbns)
		if err != nil {
			log.Error("Database query for book ratings failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		content := make([]bookWithRating, 0, len(books))
		for _, b := range books {
			content = append(content, bookWithRating{Book: b, Rating: averages[b.ISBN]})
		}
		c.JSON(http.StatusOK, pageEnvelope(content, page, size, total))
	})

	rg.GET("/:isbn", func(c *gin.Context) {
		isbn := c.Param("isbn")
		var book models.Book
		if err := db.Preload("Author").Preload("Publisher").
			Where("isbn = ?", isbn).First(&book).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "book not found"})
				return
			}
			log.Error("DB error fetching book", zap.String("isbn", isbn), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		averages, err := averageRatings(db, []string{book.ISBN})
		if err != nil {
			log.Error("DB error fetching book rating", zap.String("isbn", isbn), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, bookWithRating{Book: book, Rating: averages[book.ISBN]})
	})

	rg.GET("/:isbn/ratings", func(c *gin.Context) {
		isbn := c.Param("isbn")
		page, size := pageParams(c)

		query := db.Model(&models.Rating{}).Where("book_isbn = ?", isbn)
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var ratings []models.Rating
		if err := query.Order("id").Offset(page * size).Limit(size).Find(&ratings).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		type bookRating struct {
			UserID uint `json:"user_id"`
			Score  int  `json:"score"`
		}
		content := make([]bookRating, 0, len(ratings))
		for _, r := range ratings {
			content = append(content, bookRating{UserID: r.UserID, Score: r.Score})
		}
		c.JSON(http.StatusOK, pageEnvelope(content, page, size, total))
	})

	type bookRequest struct {
		ISBN        string `json:"isbn" binding:"required"`
		Title       string `json:"title" binding:"required"`
		Year        int    `json:"year"`
		AuthorID    uint   `json:"author_id" binding:"required"`
		PublisherID uint   `json:"publisher_id" binding:"required"`
	}

	rg.POST("", func(c *gin.Context) {
		var req bookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		var existing models.Book
		err := db.Where("isbn = ?", req.ISBN).First(&existing).Error
		if err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "book with this isbn already exists"})
			return
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		book := models.Book{
			ISBN:        req.ISBN,
			Title:       req.Title,
			Year:        req.Year,
			AuthorID:    req.AuthorID,
			PublisherID: req.PublisherID,
		}
		if err := db.Create(&book).Error; err != nil {
			log.Error("Failed to create book", zap.String("isbn", req.ISBN), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create book"})
			return
		}
		c.JSON(http.StatusCreated, book)
	})

	rg.PUT("/:isbn", func(c *gin.Context) {
		isbn := c.Param("isbn")
		var req bookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.ISBN != isbn {
			c.JSON(http.StatusBadRequest, gin.H{"error": "isbn in path should be equal to isbn in request body"})
			return
		}

		var book models.Book
		if err := db.Where("isbn = ?", isbn).First(&book).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "book not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		book.Title = req.Title
		book.Year = req.Year
		book.AuthorID = req.AuthorID
		book.PublisherID = req.PublisherID
		if err := db.Save(&book).Error; err != nil {
			log.Error("Failed to update book", zap.String("isbn", isbn), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update book"})
			return
		}
		c.JSON(http.StatusOK, book)
	})

	rg.DELETE("/:isbn", func(c *gin.Context) {
		isbn := c.Param("isbn")
		var book models.Book
		if err := db.Where("isbn = ?", isbn).First(&book).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "book not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		// Ratings hängen über die ISBN am Buch und müssen mit weg.
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("book_isbn = ?", isbn).Delete(&models.Rating{}).Error; err != nil {
				return err
			}
			return tx.Delete(&book).Error
		})
		if err != nil {
			log.Error("Failed to delete book", zap.String("isbn", isbn), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete book"})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func setupAuthorRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/v1/authors")

	rg.GET("", func(c *gin.Context) {
		page, size := pageParams(c)
		query := db.Model(&models.Author{})
		if name := c.Query("name"); name != "" {
			query = query.Where("name ILIKE ?", "%"+name+"%")
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var authors []models.Author
		if err := query.Order("id").Offset(page * size).Limit(size).Find(&authors).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, pageEnvelope(authors, page, size, total))
	})

	rg.GET("/:id", func(c *gin.Context) {
		var author models.Author
		if err := db.First(&author, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "author not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, author)
	})

	rg.POST("", func(c *gin.Context) {
		var author models.Author
		if err := c.ShouldBindJSON(&author); err != nil || author.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := db.Create(&author).Error; err != nil {
			log.Error("Failed to create author", zap.String("name", author.Name), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create author"})
			return
		}
		c.JSON(http.StatusCreated, author)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		var author models.Author
		if err := db.First(&author, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "author not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		author.Name = req.Name
		if err := db.Save(&author).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update author"})
			return
		}
		c.JSON(http.StatusOK, author)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		if err := db.Delete(&models.Author{}, c.Param("id")).Error; err != nil {
			log.Error("Failed to delete author", zap.String("id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete author"})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func setupPublisherRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/v1/publishers")

	rg.GET("", func(c *gin.Context) {
		page, size := pageParams(c)
		query := db.Model(&models.Publisher{})
		if name := c.Query("name"); name != "" {
			query = query.Where("name ILIKE ?", "%"+name+"%")
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var publishers []models.Publisher
		if err := query.Order("id").Offset(page * size).Limit(size).Find(&publishers).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, pageEnvelope(publishers, page, size, total))
	})

	rg.GET("/:id", func(c *gin.Context) {
		var publisher models.Publisher
		if err := db.First(&publisher, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "publisher not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, publisher)
	})

	rg.POST("", func(c *gin.Context) {
		var publisher models.Publisher
		if err := c.ShouldBindJSON(&publisher); err != nil || publisher.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := db.Create(&publisher).Error; err != nil {
			log.Error("Failed to create publisher", zap.String("name", publisher.Name), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create publisher"})
			return
		}
		c.JSON(http.StatusCreated, publisher)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		var publisher models.Publisher
		if err := db.First(&publisher, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "publisher not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		publisher.Name = req.Name
		if err := db.Save(&publisher).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update publisher"})
			return
		}
		c.JSON(http.StatusOK, publisher)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		if err := db.Delete(&models.Publisher{}, c.Param("id")).Error; err != nil {
			log.Error("Failed to delete publisher", zap.String("id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete publisher"})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// upsertAddress legt die Adresse eines Users an oder überschreibt sie.
// Ein Save reicht hier nicht: weil der Primary Key (user_id) immer
// gesetzt ist, würde GORM bei fehlender Zeile nur ein leeres UPDATE
// absetzen und die Adresse ginge verloren.
func upsertAddress(db *gorm.DB, address *models.Address) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(address)
}

func setupUserRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/v1/users")

	rg.GET("", func(c *gin.Context) {
		page, size := pageParams(c)

		query := db.Model(&models.User{}).
			Joins("LEFT JOIN address ON address.user_id = users.id")
		if minAge := c.Query("min_age"); minAge != "" {
			query = query.Where("users.age >= ?", minAge)
		}
		if maxAge := c.Query("max_age"); maxAge != "" {
			query = query.Where("users.age <= ?", maxAge)
		}
		if city := c.Query("city"); city != "" {
			query = query.Where("address.city = ?", city)
		}
		if region := c.Query("region"); region != "" {
			query = query.Where("address.region = ?", region)
		}
		if country := c.Query("country"); country != "" {
			query = query.Where("address.country = ?", country)
		}

		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var users []models.User
		if err := query.Preload("Address").
			Order("users.id").Offset(page * size).Limit(size).
			Find(&users).Error; err != nil {
			log.Error("Database query for users failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, pageEnvelope(users, page, size, total))
	})

	rg.GET("/:id", func(c *gin.Context) {
		var user models.User
		if err := db.Preload("Address").First(&user, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, user)
	})

	rg.GET("/:id/ratings", func(c *gin.Context) {
		page, size := pageParams(c)
		query := db.Model(&models.Rating{}).Where("user_id = ?", c.Param("id"))
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var ratings []models.Rating
		if err := query.Order("id").Offset(page * size).Limit(size).Find(&ratings).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		type userRating struct {
			BookISBN string `json:"book_isbn"`
			Score    int    `json:"score"`
		}
		content := make([]userRating, 0, len(ratings))
		for _, r := range ratings {
			content = append(content, userRating{BookISBN: r.BookISBN, Score: r.Score})
		}
		c.JSON(http.StatusOK, pageEnvelope(content, page, size, total))
	})

	type userRequest struct {
		ExternalID int64   `json:"external_id" binding:"required"`
		Age        *int    `json:"age"`
		City       *string `json:"city"`
		Region     *string `json:"region"`
		Country    *string `json:"country"`
	}

	rg.POST("", func(c *gin.Context) {
		var req userRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		user := models.User{
			ExternalID: req.ExternalID,
			Age:        req.Age,
			Address: &models.Address{
				City:    req.City,
				Region:  req.Region,
				Country: req.Country,
			},
		}
		if err := db.Create(&user).Error; err != nil {
			log.Error("Failed to create user", zap.Int64("external_id", req.ExternalID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
			return
		}
		c.JSON(http.StatusCreated, user)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		var user models.User
		if err := db.Preload("Address").First(&user, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var req userRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.ExternalID != user.ExternalID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "external_id cannot be changed"})
			return
		}

		user.Age = req.Age
		address := models.Address{
			UserID:  user.ID,
			City:    req.City,
			Region:  req.Region,
			Country: req.Country,
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Save(&user).Error; err != nil {
				return err
			}
			return upsertAddress(tx, &address).Error
		})
		if err != nil {
			log.Error("Failed to update user", zap.String("id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}
		user.Address = &address
		c.JSON(http.StatusOK, user)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		var user models.User
		if err := db.First(&user, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("user_id = ?", user.ID).Delete(&models.Rating{}).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", user.ID).Delete(&models.Address{}).Error; err != nil {
				return err
			}
			return tx.Delete(&user).Error
		})
		if err != nil {
			log.Error("Failed to delete user", zap.String("id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// setupAuthRoutes konfiguriert den Token-Proxy zum Identity-Provider.
func setupAuthRoutes(router *gin.Engine, tokenClient *auth.TokenClient, log *zap.Logger) {
	router.GET("/oauth/token", func(c *gin.Context) {
		token, err := tokenClient.GetToken(c.Request.Context())
		if err != nil {
			log.Error("Token request to identity provider failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to obtain token"})
			return
		}
		c.JSON(http.StatusOK, token)
	})
}
