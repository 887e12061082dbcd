package extract

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
)

// jobPosting is the subset of a schema.org JobPosting the pipeline reads.
type jobPosting struct {
	Title              string          `json:"title"`
	HiringOrganization organization    `json:"hiringOrganization"`
	JobLocation        json.RawMessage `json:"jobLocation"`
	Image              json.RawMessage `json:"image"`
	BaseSalary         *salary         `json:"baseSalary"`
}

type organization struct {
	Name string `json:"name"`
}

type place struct {
	Address struct {
		AddressLocality string `json:"addressLocality"`
	} `json:"address"`
}

type salary struct {
	Value json.RawMessage `json:"value"`
}

type quantitativeValue struct {
	MinValue flexNumber `json:"minValue"`
	MaxValue flexNumber `json:"maxValue"`
	Value    flexNumber `json:"value"`
}

// bounds handles value given as a QuantitativeValue or a bare number.
func (s *salary) bounds() (int, int) {
	if s == nil || len(s.Value) == 0 {
		return 0, 0
	}
	var q quantitativeValue
	if err := json.Unmarshal(s.Value, &q); err == nil {
		if q.MinValue == 0 && q.MaxValue == 0 {
			return int(q.Value), int(q.Value)
		}
		return int(q.MinValue), int(q.MaxValue)
	}
	var n flexNumber
	if err := n.UnmarshalJSON(s.Value); err == nil {
		return int(n), int(n)
	}
	return 0, 0
}

// flexNumber accepts JSON numbers and numeric strings.
type flexNumber int

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexNumber(math.Round(f))
	return nil
}

func (p jobPosting) record() crawler.JobRecord {
	record := crawler.JobRecord{
		Title:    strings.TrimSpace(p.Title),
		Company:  strings.TrimSpace(p.HiringOrganization.Name),
		Location: p.locality(),
		LogoURL:  p.image(),
	}
	record.SalaryMin, record.SalaryMax = p.BaseSalary.bounds()
	return record
}

// locality handles jobLocation given as a single place or a list of places.
func (p jobPosting) locality() string {
	if len(p.JobLocation) == 0 {
		return ""
	}
	var single place
	if err := json.Unmarshal(p.JobLocation, &single); err == nil {
		return strings.TrimSpace(single.Address.AddressLocality)
	}
	var many []place
	if err := json.Unmarshal(p.JobLocation, &many); err == nil {
		for _, pl := range many {
			if loc := strings.TrimSpace(pl.Address.AddressLocality); loc != "" {
				return loc
			}
		}
	}
	return ""
}

// image handles image given as a URL string or an ImageObject.
func (p jobPosting) image() string {
	if len(p.Image) == 0 {
		return ""
	}
	var url string
	if err := json.Unmarshal(p.Image, &url); err == nil {
		return strings.TrimSpace(url)
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(p.Image, &obj); err == nil {
		return strings.TrimSpace(obj.URL)
	}
	return ""
}
