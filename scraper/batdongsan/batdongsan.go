package batdongsan

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"batdongsan-etl/config"
	"batdongsan-etl/models"
	"batdongsan-etl/utils"
)

// Scraper renders batdongsan.com.vn search pages in headless Chrome and
// extracts raw listing cards.
type Scraper struct {
	cfg        *config.Config
	logger     *utils.Logger
	visitedURL *utils.URLSet
	retry      *utils.RetryConfig

	mu       sync.Mutex
	listings []*models.RawListing
}

// New creates a ready-to-use Scraper.
func New(cfg *config.Config, logger *utils.Logger) *Scraper {
	return &Scraper{
		cfg:        cfg,
		logger:     logger,
		visitedURL: utils.NewURLSet(),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		listings: make([]*models.RawListing, 0),
	}
}

// Scrape drives pagination over the configured search URL and returns the
// raw batch. A failing page stops pagination but keeps what was collected.
func (s *Scraper) Scrape() ([]*models.RawListing, error) {
	s.logger.Info("[batdongsan] Starting scrape: %s", s.cfg.ScrapeURL)

	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	s.logger.Info("[batdongsan] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	silentCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelSilent()
	allocCtx = silentCtx

	scrapedAt := time.Now()

	pageListings, pageCount, err := s.scrapePage(allocCtx, s.cfg.ScrapeURL, 1, scrapedAt)
	if err != nil {
		return nil, fmt.Errorf("first page failed: %w", err)
	}
	s.collect(pageListings)
	s.logger.Info("[batdongsan] Page 1 done: %d listings, %d pages total", len(pageListings), pageCount)

	if s.cfg.MaxPages > 0 && pageCount > s.cfg.MaxPages {
		pageCount = s.cfg.MaxPages
	}

	for page := 2; page <= pageCount; page++ {
		time.Sleep(time.Duration(s.cfg.RateLimitMs) * time.Millisecond)

		pageURL := nextPageURL(s.cfg.ScrapeURL, page)
		pageListings, _, err := s.scrapePage(allocCtx, pageURL, page, scrapedAt)
		if err != nil {
			s.logger.Error("[batdongsan] Page %d failed, stopping pagination: %v", page, err)
			break
		}
		if len(pageListings) == 0 {
			s.logger.Warn("[batdongsan] Page %d returned 0 listings, stopping", page)
			break
		}

		s.collect(pageListings)
		s.logger.Info("[batdongsan] Page %d done, %d listings collected so far", page, len(s.listings))
	}

	s.logger.Info("[batdongsan] Scrape complete, total raw listings: %d", len(s.listings))
	return s.listings, nil
}

func (s *Scraper) collect(pageListings []*models.RawListing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range pageListings {
		if l.Link != "" && !s.visitedURL.Add(l.Link) {
			continue
		}
		s.listings = append(s.listings, l)
	}
}

// nextPageURL builds the numbered page URL, preserving the verified-only
// filter query when present.
func nextPageURL(baseURL string, page int) string {
	const verifiedFilter = "?vrs=1"
	if strings.HasSuffix(baseURL, verifiedFilter) {
		return fmt.Sprintf("%s/p%d%s", strings.TrimSuffix(baseURL, verifiedFilter), page, verifiedFilter)
	}
	return fmt.Sprintf("%s/p%d", baseURL, page)
}

// scrapePage loads one search results page and extracts its listing cards
// plus the total page count from the pagination bar.
func (s *Scraper) scrapePage(allocCtx context.Context, pageURL string, pageNum int, scrapedAt time.Time) ([]*models.RawListing, int, error) {
	type cardData struct {
		Title       string   `json:"title"`
		Link        string   `json:"link"`
		Price       string   `json:"price"`
		Area        string   `json:"area"`
		Bedrooms    string   `json:"bedrooms"`
		Toilets     string   `json:"toilets"`
		Location    string   `json:"location"`
		Description string   `json:"description"`
		AgentName   string   `json:"agentName"`
		Phone       string   `json:"phone"`
		Images      []string `json:"images"`
	}
	type pageData struct {
		Cards     []cardData `json:"cards"`
		PageCount int        `json:"pageCount"`
	}

	var extracted pageData

	err := s.retry.Do(fmt.Sprintf("scrape-page-%d", pageNum), func() error {
		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 90*time.Second)
		defer cancelTimeout()

		loadSleep := time.Duration(s.cfg.LoadSleepSec) * time.Second
		scrollSleep := time.Duration(s.cfg.ScrollSleepSec) * time.Second

		actions := []chromedp.Action{
			chromedp.Navigate(pageURL),
			chromedp.Sleep(loadSleep),
		}
		// Scroll several times so lazily loaded cards render.
		for i := 0; i < 5; i++ {
			actions = append(actions,
				chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
				chromedp.Sleep(scrollSleep),
			)
		}
		actions = append(actions, chromedp.Evaluate(`
			(function() {
				function text(root, selector) {
					var el = root.querySelector(selector);
					return el ? el.textContent.trim() : '';
				}

				var cards = [];
				var containers = document.querySelectorAll('div.js__card-full-web');
				for (var i = 0; i < containers.length; i++) {
					var card = containers[i];

					var linkEl = card.querySelector('a.js__product-link-for-product-id');
					var link = linkEl ? (linkEl.getAttribute('href') || '') : '';

					var bedroomEl = card.querySelector('span.re__card-config-bedroom span');
					var toiletEl  = card.querySelector('span.re__card-config-toilet span');
					var phoneEl   = card.querySelector('span.js__card-phone-btn');
					var phone = '';
					if (phoneEl) {
						var spans = phoneEl.querySelectorAll('span');
						if (spans.length > 0) phone = spans[spans.length - 1].textContent.trim();
					}

					var images = [];
					var imgs = card.querySelectorAll('img');
					for (var j = 0; j < imgs.length; j++) {
						var src = imgs[j].getAttribute('src');
						if (src) images.push(src);
					}

					cards.push({
						title:       text(card, 'span.pr-title.js__card-title'),
						link:        link,
						price:       text(card, 'span.re__card-config-price'),
						area:        text(card, 'span.re__card-config-area'),
						bedrooms:    bedroomEl ? bedroomEl.textContent.trim() : '',
						toilets:     toiletEl ? toiletEl.textContent.trim() : '',
						location:    text(card, 'div.re__card-location span'),
						description: text(card, 'div.re__card-description'),
						agentName:   text(card, 'div.agent-name'),
						phone:       phone,
						images:      images
					});
				}

				var pageCount = 1;
				var pageLinks = document.querySelectorAll('a.re__pagination-number');
				for (var k = 0; k < pageLinks.length; k++) {
					var n = parseInt(pageLinks[k].textContent.trim(), 10);
					if (!isNaN(n) && n > pageCount) pageCount = n;
				}

				return { cards: cards, pageCount: pageCount };
			})()
		`, &extracted))

		if err := chromedp.Run(ctx, actions...); err != nil {
			return fmt.Errorf("chromedp run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	listings := make([]*models.RawListing, 0, len(extracted.Cards))
	for _, c := range extracted.Cards {
		listings = append(listings, &models.RawListing{
			Title:       c.Title,
			Link:        c.Link,
			RawPrice:    c.Price,
			RawArea:     c.Area,
			RawBedrooms: c.Bedrooms,
			RawToilets:  c.Toilets,
			Location:    c.Location,
			Description: c.Description,
			AgentName:   c.AgentName,
			Phone:       c.Phone,
			ImageURLs:   c.Images,
			ScrapedAt:   scrapedAt,
		})
	}
	return listings, extracted.PageCount, nil
}

// findChromeBinary returns the configured Chrome path or probes common
// install locations.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	candidates := []string{
		"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	paths := []string{
		"/usr/bin/google-chrome",
		"/usr/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
