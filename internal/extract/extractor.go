package extract

import (
	"bytes"
	"fmt"
	"go-poll/internal/model"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

const (
	shippingAvailable = "Versand möglich"
	pickupOnly        = "Nur Abholung"
	buyNow            = "Direkt kaufen"
)

var (
	articleSelector     = cascadia.MustCompile("article.aditem")
	titleSelector       = cascadia.MustCompile("a.ellipsis")
	priceSelector       = cascadia.MustCompile(".aditem-main--middle--price-shipping--price")
	locationSelector    = cascadia.MustCompile(".aditem-main--top--left")
	imageSelector       = cascadia.MustCompile("img")
	imageCountSelector  = cascadia.MustCompile(".galleryimage--counter")
	descriptionSelector = cascadia.MustCompile(".aditem-main--middle--description")
	postedDateSelector  = cascadia.MustCompile(".aditem-main--top--right")
	proBadgeSelector    = cascadia.MustCompile(".badge-hint-pro-small-srp")
	tagSelector         = cascadia.MustCompile(".aditem-main--bottom .simpletag")

	locationPattern = regexp.MustCompile(`(\d{5}\s+[\p{L}\d_\s\-.]+?)(?:\s+\d{5}|<|$)`)
)

// Extractor turns a result page into listings. It holds no state.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract returns the listings of the page in page order. Listing URLs are returned as the
// page links them; callers resolve them against the page URL.
func (e *Extractor) Extract(body []byte) ([]model.Listing, error) {
	document, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed parsing html: %w", err)
	}

	articles := cascadia.QueryAll(document, articleSelector)
	listings := make([]model.Listing, 0, len(articles))
	for _, article := range articles {
		listings = append(listings, e.extractListing(article))
	}
	return listings, nil
}

func (e *Extractor) extractListing(article *html.Node) model.Listing {
	listing := model.Listing{
		Id:             strings.TrimSpace(attr(article, "data-adid")),
		Url:            strings.TrimSpace(attr(article, "data-href")),
		SellerType:     model.SellerPrivate,
		AdditionalInfo: make([]string, 0),
	}
	if cascadia.Query(article, proBadgeSelector) != nil {
		listing.SellerType = model.SellerPro
	}

	listing.Title = queryText(article, titleSelector)
	listing.Price = queryText(article, priceSelector)
	listing.Description = queryText(article, descriptionSelector)
	listing.PostedDate = queryText(article, postedDateSelector)
	if node := cascadia.Query(article, locationSelector); node != nil {
		listing.Location = location(node)
	}
	if node := cascadia.Query(article, imageSelector); node != nil {
		listing.Image = attr(node, "src")
	}
	if count, err := strconv.Atoi(queryText(article, imageCountSelector)); err == nil {
		listing.ImageCount = &count
	}

	articleText := rawText(article)
	switch {
	case strings.Contains(articleText, shippingAvailable):
		listing.Shipping = shippingAvailable
	case strings.Contains(articleText, pickupOnly):
		listing.Shipping = pickupOnly
	}
	listing.BuyNow = strings.Contains(articleText, buyNow)
	listing.IsFeatured = isFeatured(article)

	for _, tag := range cascadia.QueryAll(article, tagSelector) {
		value := text(tag, "")
		if value == "" || value == shippingAvailable || value == pickupOnly || value == buyNow {
			continue
		}
		listing.AdditionalInfo = append(listing.AdditionalInfo, value)
	}
	return listing
}

func isFeatured(article *html.Node) bool {
	classes := classList(article)
	if slices.Contains(classes, "is-highlight") || slices.Contains(classes, "is-topad") {
		return true
	}
	for parent := article.Parent; parent != nil; parent = parent.Parent {
		if parent.Type == html.ElementNode && parent.Data == "li" {
			parentClasses := classList(parent)
			return slices.Contains(parentClasses, "is-topad") || slices.Contains(parentClasses, "badge-topad")
		}
	}
	return false
}

// location keeps postal code and district, dropping icons and zero-width spaces.
func location(node *html.Node) string {
	full := strings.ReplaceAll(text(node, " "), "\u200b", "")
	full = strings.Join(strings.Fields(full), " ")
	if match := locationPattern.FindStringSubmatch(full); match != nil {
		return strings.TrimSpace(match[1])
	}
	clean := strings.TrimSpace(strings.SplitN(full, "<", 2)[0])
	if runes := []rune(clean); len(runes) > 100 {
		clean = string(runes[:100])
	}
	return clean
}

func attr(node *html.Node, name string) string {
	for _, attribute := range node.Attr {
		if attribute.Key == name {
			return attribute.Val
		}
	}
	return ""
}

func classList(node *html.Node) []string {
	return strings.Fields(attr(node, "class"))
}

func queryText(node *html.Node, selector cascadia.Matcher) string {
	if found := cascadia.Query(node, selector); found != nil {
		return text(found, "")
	}
	return ""
}

// text joins the trimmed text nodes below node with separator.
func text(node *html.Node, separator string) string {
	parts := make([]string, 0)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return strings.Join(parts, separator)
}

func rawText(node *html.Node) string {
	builder := strings.Builder{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			builder.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return builder.String()
}
