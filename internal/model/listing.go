package model

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	SellerPrivate = "PRIVATE"
	SellerPro     = "PRO"
)

// Listing is one result extracted from a polled page. It lives for a single execution.
type Listing struct {
	Id             string   `json:"id"`
	Url            string   `json:"url"`
	Title          string   `json:"title,omitempty"`
	Price          string   `json:"price,omitempty"`
	Location       string   `json:"location,omitempty"`
	PostedDate     string   `json:"posted_date,omitempty"`
	Description    string   `json:"description,omitempty"`
	Image          string   `json:"image,omitempty"`
	SellerType     string   `json:"seller_type"`
	Shipping       string   `json:"shipping,omitempty"`
	ImageCount     *int     `json:"image_count,omitempty"`
	IsFeatured     bool     `json:"is_featured"`
	BuyNow         bool     `json:"buy_now"`
	AdditionalInfo []string `json:"additional_info"`
}

// Number returns the listing id as an integer, the ordering key of listings.
func (l Listing) Number() (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(l.Id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("listing id %q is not an integer: %w", l.Id, err)
	}
	return n, nil
}
