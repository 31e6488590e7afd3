package generic

import (
	"context"
	"testing"

	"github.com/harvestnet/harvestor/internal/config"
)

const samplePage = `
<html><body>
<div class="results">
  <div class="listing" data-id="101">
    <h2 class="title">Sunny 2BR near the park</h2>
    <span class="price">$ 200,000</span>
    <span class="area">75 m2</span>
    <span class="rooms">2</span>
    <span class="location">Downtown</span>
  </div>
  <div class="listing" data-id="102">
    <h2 class="title">Loft with river view</h2>
    <span class="price">$ 340,500</span>
    <span class="area">110 m2</span>
    <span class="rooms">3</span>
    <span class="location">Riverside</span>
  </div>
</div>
<a class="next-page" href="/listings?page=2">Next</a>
</body></html>
`

func testConfig() config.GenericStrategyConfig {
	return config.GenericStrategyConfig{
		ListingSelector:  "div.listing",
		NextPageSelector: "a.next-page",
		NonEmptySelector: "div.results",
		ExternalIDAttr:   "data-id",
		FieldSelectors: map[string]string{
			"title":    "h2.title",
			"price":    "span.price",
			"area":     "span.area",
			"rooms":    "span.rooms",
			"location": "span.location",
		},
	}
}

func TestStrategy_ExtractListing(t *testing.T) {
	s := New("sample-site", []string{"https://example.test/listings"}, testConfig())

	listings, err := s.ExtractListing(context.Background(), "https://example.test/listings", []byte(samplePage))
	if err != nil {
		t.Fatalf("ExtractListing() error = %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("len(listings) = %d, want 2", len(listings))
	}

	first := listings[0]
	if first.ExternalID != "101" {
		t.Errorf("ExternalID = %q, want %q", first.ExternalID, "101")
	}
	if first.Title != "Sunny 2BR near the park" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Price != 200000 {
		t.Errorf("Price = %v, want 200000", first.Price)
	}
	if first.Area != 75 {
		t.Errorf("Area = %v, want 75", first.Area)
	}
	if first.Rooms != 2 {
		t.Errorf("Rooms = %v, want 2", first.Rooms)
	}
	if first.Location != "Downtown" {
		t.Errorf("Location = %q, want Downtown", first.Location)
	}
}

func TestStrategy_ExtractPagination(t *testing.T) {
	s := New("sample-site", nil, testConfig())

	next, err := s.ExtractPagination(context.Background(), "https://example.test/listings", []byte(samplePage))
	if err != nil {
		t.Fatalf("ExtractPagination() error = %v", err)
	}
	if len(next) != 1 || next[0] != "https://example.test/listings?page=2" {
		t.Fatalf("next = %v, want one resolved absolute URL", next)
	}
}

func TestStrategy_IsLastPage(t *testing.T) {
	s := New("sample-site", nil, testConfig())

	if s.IsLastPage([]byte(samplePage)) {
		t.Error("IsLastPage() = true, want false (a next-page link is present)")
	}

	noNext := `<html><body><div class="results"></div></body></html>`
	if !s.IsLastPage([]byte(noNext)) {
		t.Error("IsLastPage() = false, want true (no next-page link)")
	}
}

func TestStrategy_DeclaresNonEmpty(t *testing.T) {
	s := New("sample-site", nil, testConfig())

	if !s.DeclaresNonEmpty([]byte(samplePage)) {
		t.Error("DeclaresNonEmpty() = false, want true")
	}

	noResults := `<html><body>no results container here</body></html>`
	if s.DeclaresNonEmpty([]byte(noResults)) {
		t.Error("DeclaresNonEmpty() = true, want false")
	}
}

func TestStrategy_ExtractListing_NoSelectorConfigured(t *testing.T) {
	s := New("bare-site", nil, config.GenericStrategyConfig{})

	listings, err := s.ExtractListing(context.Background(), "https://example.test/", []byte(samplePage))
	if err != nil {
		t.Fatalf("ExtractListing() error = %v", err)
	}
	if listings != nil {
		t.Errorf("listings = %v, want nil", listings)
	}
}
