package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// catalogQuery describes one product fetch at game start. Count is
// the number of rounds; PriceFloor is only set in celeb mode.
type catalogQuery struct {
	GenreID    string
	Keyword    string
	Count      int
	PriceFloor int
}

type catalog interface {
	fetch(ctx context.Context, q catalogQuery) ([]Product, error)
}

// rakutenCatalog pulls products from the Rakuten Ichiba API: the
// ranking endpoint by default, or the search endpoint when a keyword
// is set (ranking has no keyword parameter).
type rakutenCatalog struct {
	baseURL     string
	appID       string
	affiliateID string
	client      *http.Client
}

func newRakutenCatalog(cfg *Config) *rakutenCatalog {
	return &rakutenCatalog{
		baseURL:     strings.TrimSuffix(cfg.catalogURL, "/"),
		appID:       cfg.catalogAppID,
		affiliateID: cfg.catalogAffiliateID,
		client: &http.Client{
			Timeout: cfg.catalogTimeout,
		},
	}
}

const (
	rankingEndpoint = "/services/api/IchibaItem/Ranking/20220601"
	searchEndpoint  = "/services/api/IchibaItem/Search/20170706"
)

type rakutenItem struct {
	ItemName        string  `json:"itemName"`
	ItemPrice       int     `json:"itemPrice"`
	ItemCaption     string  `json:"itemCaption"`
	ItemURL         string  `json:"itemUrl"`
	AffiliateURL    string  `json:"affiliateUrl"`
	ReviewCount     int     `json:"reviewCount"`
	ReviewAverage   float64 `json:"reviewAverage"`
	MediumImageUrls []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"mediumImageUrls"`
}

type rakutenResponse struct {
	Items []struct {
		Item rakutenItem `json:"Item"`
	} `json:"Items"`
}

func (c *rakutenCatalog) fetch(ctx context.Context, q catalogQuery) ([]Product, error) {
	endpoint := rankingEndpoint
	params := url.Values{}
	params.Set("format", "json")
	params.Set("applicationId", c.appID)
	if c.affiliateID != "" {
		params.Set("affiliateId", c.affiliateID)
	}

	// Vary the page so repeat games see different products.
	params.Set("page", strconv.Itoa(rand.IntN(3)+1))

	if q.GenreID != "" && q.GenreID != "0" {
		params.Set("genreId", q.GenreID)
	}

	if q.Keyword != "" {
		endpoint = searchEndpoint
		params.Set("keyword", q.Keyword)
		params.Set("hits", "30")
		if q.PriceFloor > 0 {
			params.Set("minPrice", strconv.Itoa(q.PriceFloor))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errCatalogFetch, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errCatalogFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", errCatalogFetch, resp.StatusCode, string(body))
	}

	var parsed rakutenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", errCatalogFetch, err)
	}

	candidates := make([]Product, 0, len(parsed.Items))
	for _, wrapped := range parsed.Items {
		product := toProduct(wrapped.Item)
		if product.Price <= 0 || len(product.Images) == 0 {
			continue
		}
		if q.PriceFloor > 0 && product.Price < q.PriceFloor {
			continue
		}
		candidates = append(candidates, product)
	}

	if len(candidates) < q.Count {
		return nil, fmt.Errorf("%w: wanted %d products, found %d", errCatalogFetch, q.Count, len(candidates))
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	return candidates[:q.Count], nil
}

// tagPattern matches the 【】-bracketed labels Rakuten sellers prepend
// to item names ("free shipping", "gift", and so on).
var tagPattern = regexp.MustCompile(`【(.*?)】`)

const maxProductImages = 3

func toProduct(item rakutenItem) Product {
	var tags []string
	for _, match := range tagPattern.FindAllStringSubmatch(item.ItemName, -1) {
		if match[1] != "" {
			tags = append(tags, match[1])
		}
	}

	var images []string
	for _, img := range item.MediumImageUrls {
		if len(images) == maxProductImages {
			break
		}
		// Strip the thumbnail size suffix to get the full-size image.
		cleaned := strings.TrimSuffix(img.ImageURL, "?_ex=128x128")
		if cleaned != "" {
			images = append(images, cleaned)
		}
	}

	productURL := item.ItemURL
	if item.AffiliateURL != "" {
		productURL = item.AffiliateURL
	}

	return Product{
		Name:          item.ItemName,
		Description:   item.ItemCaption,
		Price:         item.ItemPrice,
		Images:        images,
		URL:           productURL,
		Tags:          tags,
		ReviewCount:   item.ReviewCount,
		ReviewAverage: item.ReviewAverage,
	}
}

// celebPriceFloor keeps celeb mode games to luxury listings.
const celebPriceFloor = 100000

// fallbackProducts returns a fixed offline product set, cycled and
// shuffled to the requested count, so a game can always start even
// when the catalog is unreachable.
func fallbackProducts(count int) []Product {
	fixed := []Product{
		{
			Name:        "Premium Wagyu Beef Yakiniku Set 500g",
			Description: "Top-grade marbled wagyu beef that melts in your mouth.",
			Price:       5980,
			Images:      []string{"https://placehold.co/400x400?text=Wagyu+1", "https://placehold.co/400x400?text=Wagyu+2", "https://placehold.co/400x400?text=Wagyu+3"},
			URL:         "https://www.rakuten.co.jp/",
			Tags:        []string{"free shipping"},
		},
		{
			Name:        "Wireless Earbuds with Noise Cancelling",
			Description: "High-fidelity earbuds with the latest active noise cancelling.",
			Price:       12800,
			Images:      []string{"https://placehold.co/400x400?text=Earbuds+1", "https://placehold.co/400x400?text=Earbuds+2", "https://placehold.co/400x400?text=Earbuds+3"},
			URL:         "https://www.rakuten.co.jp/",
			Tags:        []string{"noise cancelling"},
		},
		{
			Name:        "Kyoto Matcha Sweets Assortment",
			Description: "A rich matcha dessert selection from a long-established tea house.",
			Price:       3240,
			Images:      []string{"https://placehold.co/400x400?text=Matcha+1", "https://placehold.co/400x400?text=Matcha+2", "https://placehold.co/400x400?text=Matcha+3"},
			URL:         "https://www.rakuten.co.jp/",
			Tags:        []string{"gift"},
		},
		{
			Name:        "Robot Vacuum with Auto-Empty Dock",
			Description: "App-connected robot vacuum with automatic dust collection.",
			Price:       45000,
			Images:      []string{"https://placehold.co/400x400?text=Robot+1", "https://placehold.co/400x400?text=Robot+2", "https://placehold.co/400x400?text=Robot+3"},
			URL:         "https://www.rakuten.co.jp/",
			Tags:        []string{"auto-empty"},
		},
		{
			Name:        "Natural Mineral Water 500ml x 24 Bottles",
			Description: "Crisp natural spring water, bottled at the source.",
			Price:       1980,
			Images:      []string{"https://placehold.co/400x400?text=Water+1", "https://placehold.co/400x400?text=Water+2", "https://placehold.co/400x400?text=Water+3"},
			URL:         "https://www.rakuten.co.jp/",
			Tags:        []string{"bulk buy"},
		},
	}

	products := make([]Product, 0, count)
	for i := 0; i < count; i++ {
		products = append(products, fixed[i%len(fixed)])
	}

	rand.Shuffle(len(products), func(i, j int) {
		products[i], products[j] = products[j], products[i]
	})

	return products
}

// assignBasePrices gives every product a highlow reference price:
// the actual price perturbed by a random 10-50% in either direction,
// rounded to the nearest 100, and never equal to the actual price.
func assignBasePrices(products []Product) {
	for i := range products {
		products[i].BasePrice = perturbPrice(products[i].Price)
	}
}

func perturbPrice(price int) int {
	pct := 0.10 + rand.Float64()*0.40
	if rand.IntN(2) == 0 {
		pct = -pct
	}

	base := int(math.Round(float64(price)*(1+pct)/100)) * 100
	if base < 100 {
		base = 100
	}
	if base == price {
		base += 100
	}

	return base
}
