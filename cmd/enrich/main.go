package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/revprisma/gateway/internal/config"
	"github.com/revprisma/gateway/internal/database"
	"github.com/revprisma/gateway/internal/models"
	"github.com/revprisma/gateway/internal/repository"
	"github.com/revprisma/gateway/pkg/utils"
)

// AbstractEnricher fills in missing abstracts by visiting DOI landing pages
type AbstractEnricher struct {
	collector   *colly.Collector
	repoManager *repository.RepositoryManager
	logger      *logrus.Logger

	// mu guards the fields below; async collector callbacks run concurrently
	mu        sync.Mutex
	processed map[string]bool
	errors    []error
	updated   int
}

var (
	// Command line flags
	dryRun     = flag.Bool("dry-run", false, "Don't write abstracts, just print what would be updated")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	limit      = flag.Int("limit", 100, "Maximum number of articles to process (0 = all)")
	concurrent = flag.Int("concurrent", 2, "Number of concurrent requests")
	delay      = flag.Duration("delay", 2*time.Second, "Delay between requests")
)

func main() {
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	// Initialize logger
	logger := utils.GetLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	logger.Info("Starting abstract enricher...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	dbManager, err := database.NewManager(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database manager")
	}
	defer dbManager.Close()

	repoManager := repository.NewRepositoryManager(dbManager.DB)

	enricher := NewAbstractEnricher(repoManager, logger)

	if err := enricher.EnrichAbstracts(); err != nil {
		logger.WithError(err).Fatal("Abstract enrichment failed")
	}

	logger.WithFields(logrus.Fields{
		"updated": enricher.updated,
		"errors":  len(enricher.errors),
	}).Info("Abstract enrichment completed")
}

func NewAbstractEnricher(repoManager *repository.RepositoryManager, logger *logrus.Logger) *AbstractEnricher {
	// Configure Colly collector
	c := colly.NewCollector(
		colly.UserAgent("RevPRISMA-Enricher/1.0 (mailto:support@revprisma.org)"),
		colly.Async(true),
	)

	// Configure limits and delays
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: *concurrent,
		Delay:       *delay,
	})

	// Configure timeouts
	c.SetRequestTimeout(30 * time.Second)

	return &AbstractEnricher{
		collector:   c,
		repoManager: repoManager,
		logger:      logger,
		processed:   make(map[string]bool),
		errors:      make([]error, 0),
	}
}

func (ae *AbstractEnricher) EnrichAbstracts() error {
	articles, err := ae.repoManager.Article.GetMissingAbstracts(*limit)
	if err != nil {
		return fmt.Errorf("failed to load articles: %w", err)
	}

	if len(articles) == 0 {
		ae.logger.Info("No articles with missing abstracts")
		return nil
	}

	ae.logger.WithField("total_articles", len(articles)).Info("Processing articles")

	// DOI -> article lookup for the response callbacks
	byDOI := make(map[string]*models.Article, len(articles))
	for i := range articles {
		byDOI[normalizeDOI(articles[i].DOI)] = &articles[i]
	}

	ae.collector.OnHTML("html", func(e *colly.HTMLElement) {
		doi := normalizeDOI(e.Request.Ctx.Get("doi"))

		ae.mu.Lock()
		article, ok := byDOI[doi]
		if !ok || ae.processed[doi] {
			ae.mu.Unlock()
			return
		}
		ae.processed[doi] = true
		ae.mu.Unlock()

		abstract := extractAbstract(e)
		if abstract == "" {
			ae.logger.WithField("doi", doi).Debug("No abstract found on landing page")
			return
		}

		if *dryRun {
			ae.logger.WithFields(logrus.Fields{
				"doi":    doi,
				"length": len(abstract),
			}).Info("Would update abstract (dry run)")
			return
		}

		if err := ae.repoManager.Article.UpdateAbstract(article.ID, abstract); err != nil {
			ae.logger.WithError(err).WithField("doi", doi).Error("Failed to update abstract")
			ae.mu.Lock()
			ae.errors = append(ae.errors, err)
			ae.mu.Unlock()
			return
		}

		ae.mu.Lock()
		ae.updated++
		ae.mu.Unlock()
		ae.logger.WithField("doi", doi).Debug("Abstract updated")
	})

	ae.collector.OnError(func(r *colly.Response, err error) {
		ae.logger.WithFields(logrus.Fields{
			"url":    r.Request.URL.String(),
			"status": r.StatusCode,
		}).WithError(err).Warn("Request failed")
		ae.mu.Lock()
		ae.errors = append(ae.errors, err)
		ae.mu.Unlock()
	})

	for _, article := range articles {
		doi := normalizeDOI(article.DOI)
		if doi == "" {
			continue
		}

		url := "https://doi.org/" + doi
		req := colly.NewContext()
		req.Put("doi", doi)
		if err := ae.collector.Request("GET", url, nil, req, nil); err != nil {
			ae.logger.WithError(err).WithField("doi", doi).Warn("Failed to queue request")
		}
	}

	ae.collector.Wait()
	return nil
}

// extractAbstract tries the metadata tags publishers commonly embed
func extractAbstract(e *colly.HTMLElement) string {
	selectors := []string{
		`meta[name="citation_abstract"]`,
		`meta[name="dc.description"]`,
		`meta[property="og:description"]`,
		`meta[name="description"]`,
	}

	for _, sel := range selectors {
		if content := strings.TrimSpace(e.ChildAttr(sel, "content")); len(content) > 200 {
			return content
		}
	}

	return ""
}

func normalizeDOI(doi string) string {
	doi = strings.TrimSpace(strings.ToLower(doi))
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return doi
}
