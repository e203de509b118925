package engine

import (
	"go-poll/internal/model"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Mode is selected once per execution from the stored watermark.
type Mode interface {
	isMode()
}

// FirstRun applies to jobs that never completed a successful run.
type FirstRun struct{}

// Incremental applies to jobs with a watermark; only listings above it are new.
type Incremental struct {
	Watermark int64
}

func (FirstRun) isMode()    {}
func (Incremental) isMode() {}

func ModeFor(job model.Job) (Mode, error) {
	if job.LastListingId == nil || strings.TrimSpace(*job.LastListingId) == "" {
		return FirstRun{}, nil
	}
	watermark, err := strconv.ParseInt(strings.TrimSpace(*job.LastListingId), 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "stored watermark %q of job %d is not an integer", *job.LastListingId, job.Id)
	}
	return Incremental{Watermark: watermark}, nil
}

type numbered struct {
	model.Listing
	number int64
}

// selection is the outcome of one mode: the new listings in notification order and the
// watermark to store, nil when it stays as it is.
type selection struct {
	listings  []model.Listing
	watermark *string
}

func (s selection) watermarkValue() string {
	if s.watermark == nil {
		return ""
	}
	return *s.watermark
}

func newSelection(listings []numbered) selection {
	result := selection{listings: make([]model.Listing, 0, len(listings))}
	for _, listing := range listings {
		result.listings = append(result.listings, listing.Listing)
	}
	if len(listings) > 0 {
		watermark := strconv.FormatInt(listings[0].number, 10)
		result.watermark = &watermark
	}
	return result
}

// selectFirstRun picks at most one listing: the newest non-featured one across all targets.
// A target listing only featured results contributes its highest featured listing instead.
func selectFirstRun(perTarget [][]numbered) selection {
	candidates := make([][]numbered, 0, len(perTarget))
	for _, listings := range perTarget {
		regular := make([]numbered, 0, len(listings))
		var topFeatured *numbered
		for i, listing := range listings {
			if !listing.IsFeatured {
				regular = append(regular, listing)
				continue
			}
			if topFeatured == nil || listing.number > topFeatured.number {
				topFeatured = &listings[i]
			}
		}
		if len(regular) == 0 && topFeatured != nil {
			regular = append(regular, *topFeatured)
		}
		candidates = append(candidates, regular)
	}

	var newest *numbered
	for _, listing := range mergeFirstSeen(candidates) {
		if newest == nil || newer(listing, *newest) {
			newest = &listing
		}
	}
	if newest == nil {
		return selection{listings: []model.Listing{}}
	}
	return newSelection([]numbered{*newest})
}

// newer prefers non-featured listings, then the higher id.
func newer(candidate, current numbered) bool {
	if candidate.IsFeatured != current.IsFeatured {
		return !candidate.IsFeatured
	}
	return candidate.number > current.number
}

// selectIncremental keeps every non-featured listing above the watermark, newest first.
func selectIncremental(perTarget [][]numbered, watermark int64) selection {
	fresh := make([]numbered, 0)
	for _, listing := range mergeFirstSeen(perTarget) {
		if listing.IsFeatured || listing.number <= watermark {
			continue
		}
		fresh = append(fresh, listing)
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].number > fresh[j].number })
	return newSelection(fresh)
}

// mergeFirstSeen concatenates the target results, keeping the first occurrence of every id.
func mergeFirstSeen(perTarget [][]numbered) []numbered {
	seen := make(map[int64]struct{})
	merged := make([]numbered, 0)
	for _, listings := range perTarget {
		for _, listing := range listings {
			if _, ok := seen[listing.number]; ok {
				continue
			}
			seen[listing.number] = struct{}{}
			merged = append(merged, listing)
		}
	}
	return merged
}
