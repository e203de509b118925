package notify

import (
	"fmt"
	"go-poll/internal/model"
	"strconv"
	"strings"
)

const (
	UrgentMarker         = "@everyone"
	maxDescriptionLength = 300
	separatorWidth       = 40
)

type labels struct {
	NewListing     string
	Title          string
	Posted         string
	Image          string
	Description    string
	Link           string
	Location       string
	Price          string
	Seller         string
	Shipping       string
	Id             string
	Images         string
	AdditionalInfo string
}

var translations = map[string]labels{
	"de": {
		NewListing:     "Neue Anzeige",
		Title:          "Titel",
		Posted:         "Veröffentlicht",
		Image:          "Bild",
		Description:    "Beschreibung",
		Link:           "Link",
		Location:       "Standort",
		Price:          "Preis",
		Seller:         "Verkäufer",
		Shipping:       "Versand",
		Id:             "ID",
		Images:         "Bilder",
		AdditionalInfo: "Zusatzinfo",
	},
	"en": {
		NewListing:     "New Listing",
		Title:          "Title",
		Posted:         "Posted",
		Image:          "Image",
		Description:    "Description",
		Link:           "Link",
		Location:       "Location",
		Price:          "Price",
		Seller:         "Seller",
		Shipping:       "Shipping",
		Id:             "ID",
		Images:         "Images",
		AdditionalInfo: "Additional Info",
	},
}

// Message is one listing of a notification batch.
type Message struct {
	Job      model.Job
	Listing  model.Listing
	Index    int
	Total    int
	Language string
}

func (m Message) labels() labels {
	if l, ok := translations[m.Language]; ok {
		return l
	}
	return translations["de"]
}

// Header renders the job name and position marker; priority jobs get the urgent marker appended.
func (m Message) Header(urgentMarker string) string {
	return m.Job.Name + " – " + m.position() + m.urgent(urgentMarker)
}

func (m Message) position() string {
	return fmt.Sprintf("%s %d/%d", m.labels().NewListing, m.Index, m.Total)
}

func (m Message) urgent(marker string) string {
	if m.Job.Priority && marker != "" {
		return " " + marker
	}
	return ""
}

// Markdown renders every listing field with labels, as chat bridges display it.
func (m Message) Markdown(urgentMarker string) string {
	l := m.labels()
	listing := m.Listing
	lines := []string{fmt.Sprintf("🔔 **%s** - %s%s", m.Job.Name, m.position(), m.urgent(urgentMarker)), ""}
	field := func(emoji, label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("%s **%s:** %s", emoji, label, value))
		}
	}

	field("📌", l.Title, listing.Title)
	field("🕐", l.Posted, listing.PostedDate)
	field("🖼️", l.Image, listing.Image)
	field("📝", l.Description, truncate(listing.Description))
	field("🔗", l.Link, listing.Url)
	field("📍", l.Location, listing.Location)
	field("💰", l.Price, listing.Price)
	field(sellerEmoji(listing.SellerType), l.Seller, listing.SellerType)
	field("📦", l.Shipping, listing.Shipping)
	field("🆔", l.Id, listing.Id)
	if listing.ImageCount != nil && *listing.ImageCount > 0 {
		field("📸", l.Images, strconv.Itoa(*listing.ImageCount))
	}
	field("ℹ️", l.AdditionalInfo, strings.Join(listing.AdditionalInfo, ", "))

	lines = append(lines, "", strings.Repeat("─", separatorWidth))
	return strings.Join(lines, "\n")
}

// Title and Body render the short form used by webhook aggregators.
func (m Message) Title(urgentMarker string) string {
	return "🔔 " + m.Header(urgentMarker)
}

func (m Message) Body() string {
	listing := m.Listing
	lines := make([]string, 0)
	line := func(emoji, value string) {
		if value != "" {
			lines = append(lines, emoji+" "+value)
		}
	}
	line("📌", listing.Title)
	line("💰", listing.Price)
	line("📍", listing.Location)
	line("🕐", listing.PostedDate)
	line("📝", truncate(listing.Description))
	line("🔗", listing.Url)
	line(sellerEmoji(listing.SellerType), listing.SellerType)
	line("📦", listing.Shipping)
	line("🖼️", listing.Image)
	return strings.Join(lines, "\n")
}

func sellerEmoji(sellerType string) string {
	if sellerType == model.SellerPrivate {
		return "👤"
	}
	return "🏢"
}

func truncate(description string) string {
	runes := []rune(description)
	if len(runes) <= maxDescriptionLength {
		return description
	}
	return string(runes[:maxDescriptionLength-3]) + "..."
}
