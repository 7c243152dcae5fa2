// Script to compare fine and coarse sensor catalog coverage over a site
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	s2BaseURL    = "https://earth-search.aws.element84.com/v1"
	s2Collection = "sentinel-2-l2a"
	s3BaseURL    = "https://catalogue.dataspace.copernicus.eu/stac"
	s3Collection = "SENTINEL-3"
)

// Innsbruck site extent (0.009 degree box around the position)
var siteBBox = []float64{11.315808, 47.111671, 11.324808, 47.120671}

func main() {
	// Previous full season
	season := time.Now().UTC().Year() - 1
	start := time.Date(season, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(season, time.December, 31, 23, 59, 59, 0, time.UTC)

	fmt.Printf("=== Catalog Comparison: Innsbruck, season %d ===\n", season)
	fmt.Printf("Date range: %s to %s\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
	fmt.Printf("Bounding box: %v\n\n", siteBBox)

	// Query the fine sensor catalog
	fmt.Println("Querying S2 catalog...")
	s2Count, err := queryCatalog(s2BaseURL, s2Collection, start, end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "S2 query failed: %v\n", err)
	} else {
		fmt.Printf("S2 count: %d\n\n", s2Count)
	}

	// Query the coarse sensor catalog
	fmt.Println("Querying S3 catalog...")
	s3Count, err := queryCatalog(s3BaseURL, s3Collection, start, end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "S3 query failed: %v\n", err)
	} else {
		fmt.Printf("S3 count: %d\n\n", s3Count)
	}

	// Compare
	fmt.Println("=== Comparison ===")
	fmt.Printf("S2 (fine):    %d acquisitions\n", s2Count)
	fmt.Printf("S3 (coarse):  %d acquisitions\n", s3Count)
	if s2Count > 0 && s3Count > s2Count {
		fmt.Println("✓ Coverage looks plausible: the coarse sensor revisits more often")
	} else {
		fmt.Println("✗ Unexpected coverage ratio")
		fmt.Println("\nNote: Low or zero counts may occur due to:")
		fmt.Println("  - Collection names differing between catalog deployments")
		fmt.Println("  - Catalogs requiring a token even for searches")
		fmt.Println("  - The coarse catalog indexing by instrument rather than mission")
	}
}

// searchPage is the subset of a STAC search response the script reads.
type searchPage struct {
	NumberMatched *int `json:"numberMatched"`
	Context       *struct {
		Matched *int `json:"matched"`
	} `json:"context"`
	Features []json.RawMessage `json:"features"`
	Links    []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

func queryCatalog(base, collection string, start, end time.Time) (int, error) {
	params := url.Values{}
	params.Set("collections", collection)
	params.Set("bbox", fmt.Sprintf("%f,%f,%f,%f", siteBBox[0], siteBBox[1], siteBBox[2], siteBBox[3]))
	params.Set("datetime", fmt.Sprintf("%s/%s",
		start.Format("2006-01-02T15:04:05Z"), end.Format("2006-01-02T15:04:05Z")))
	params.Set("limit", "100")

	searchURL := base + "/search?" + params.Encode()

	total := 0
	for page := 1; searchURL != ""; page++ {
		if page > 50 {
			return 0, fmt.Errorf("paging did not terminate after %d pages", page-1)
		}

		resp, err := http.Get(searchURL)
		if err != nil {
			return 0, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return 0, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
		}

		var result searchPage
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			return 0, fmt.Errorf("parse response failed: %w", err)
		}

		// Prefer the reported total; not every deployment sends one.
		if result.NumberMatched != nil {
			return *result.NumberMatched, nil
		}
		if result.Context != nil && result.Context.Matched != nil {
			return *result.Context.Matched, nil
		}

		fmt.Printf("  page %d: %d items\n", page, len(result.Features))
		total += len(result.Features)

		searchURL = ""
		for _, link := range result.Links {
			if link.Rel == "next" && link.Href != "" {
				searchURL = link.Href
				break
			}
		}
	}

	return total, nil
}
