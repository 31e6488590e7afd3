// Package generic implements the single YAML-driven site strategy variant:
// a CSS-selector set loaded from config.GenericStrategyConfig drives listing
// extraction, pagination discovery and last-page/non-empty detection without
// any per-site Go code. This is the one concrete Strategy the registry can
// always fall back to when a site has no bespoke parser.
package generic

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/harvestnet/harvestor/internal/config"
	"github.com/harvestnet/harvestor/internal/core/domain"
)

// Strategy is a ports.Strategy driven entirely by CSS selectors.
type Strategy struct {
	site     string
	seedURLs []string
	cfg      config.GenericStrategyConfig
}

// New builds a Strategy for site, seeded with seedURLs and parameterized by
// cfg's selectors.
func New(site string, seedURLs []string, cfg config.GenericStrategyConfig) *Strategy {
	return &Strategy{site: site, seedURLs: seedURLs, cfg: cfg}
}

func (s *Strategy) Site() string {
	return s.site
}

func (s *Strategy) SeedURLs() []string {
	return s.seedURLs
}

// ExtractListing runs cfg.ListingSelector over body and maps each match's
// field selectors onto a domain.Listing.
func (s *Strategy) ExtractListing(ctx context.Context, pageURL string, body []byte) ([]*domain.Listing, error) {
	if s.cfg.ListingSelector == "" {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("generic strategy: parse %s: %w", pageURL, err)
	}

	var listings []*domain.Listing
	doc.Find(s.cfg.ListingSelector).Each(func(i int, sel *goquery.Selection) {
		listing := &domain.Listing{Site: s.site, URL: pageURL}

		for field, selector := range s.cfg.FieldSelectors {
			text := strings.TrimSpace(sel.Find(selector).First().Text())
			if text == "" {
				continue
			}
			applyField(listing, field, text)
		}

		if s.cfg.ExternalIDAttr != "" {
			if id, ok := sel.Attr(s.cfg.ExternalIDAttr); ok && id != "" {
				listing.ExternalID = id
			}
		}
		if listing.ExternalID == "" {
			listing.ExternalID = fmt.Sprintf("%s-%d", s.site, i)
		}

		listings = append(listings, listing)
	})

	return listings, nil
}

// ExtractPagination resolves every href matched by cfg.NextPageSelector into
// an absolute URL relative to pageURL.
func (s *Strategy) ExtractPagination(ctx context.Context, pageURL string, body []byte) ([]string, error) {
	if s.cfg.NextPageSelector == "" {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("generic strategy: parse %s: %w", pageURL, err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("generic strategy: base url %s: %w", pageURL, err)
	}

	var next []string
	doc.Find(s.cfg.NextPageSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		next = append(next, base.ResolveReference(ref).String())
	})

	return next, nil
}

// IsLastPage reports true whenever cfg.NextPageSelector finds no match,
// since a page with no follow link cannot paginate further.
func (s *Strategy) IsLastPage(body []byte) bool {
	if s.cfg.NextPageSelector == "" {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	return doc.Find(s.cfg.NextPageSelector).Length() == 0
}

// DeclaresNonEmpty reports whether this page is of a type expected to carry
// at least one listing, per cfg.NonEmptySelector's presence in body.
func (s *Strategy) DeclaresNonEmpty(body []byte) bool {
	if s.cfg.NonEmptySelector == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return doc.Find(s.cfg.NonEmptySelector).Length() > 0
}

var firstNumber = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

func applyField(listing *domain.Listing, field, text string) {
	switch strings.ToLower(field) {
	case "title":
		listing.Title = text
	case "description":
		listing.Description = text
	case "location":
		listing.Location = text
	case "currency":
		listing.Currency = text
	case "external_id":
		listing.ExternalID = text
	case "price":
		listing.Price = parseFloat(text)
	case "area":
		listing.Area = parseFloat(text)
	case "rooms":
		listing.Rooms = parseFloat(text)
	case "feature", "features":
		listing.Features = append(listing.Features, text)
	}
}

func parseFloat(text string) float64 {
	match := firstNumber.FindString(text)
	if match == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}
