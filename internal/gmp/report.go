package gmp

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/oryxsec/scanhub/internal/database/models"
)

type reportDoc struct {
	Hosts   []reportHost   `xml:"report>host"`
	Results []reportResult `xml:"report>results>result"`

	// Some report formats omit the nested report element.
	FlatHosts   []reportHost   `xml:"host"`
	FlatResults []reportResult `xml:"results>result"`
}

type reportHost struct {
	IP string `xml:"ip"`
}

type reportResult struct {
	Threat   string `xml:"threat"`
	Severity string `xml:"severity"`
}

// ParseReportSummary extracts the fixed summary from a report blob:
// distinct hosts scanned and result counts per severity bucket. Results are
// bucketed by their threat label; when the label is missing, the numeric
// severity is bucketed the way gvmd does (>=7 high, >=4 medium, >0 low,
// else log). A malformed report yields a zero summary, never an error;
// the stored XML stays intact either way.
func ParseReportSummary(reportXML string) *models.ScanSummary {
	summary := &models.ScanSummary{}

	var doc reportDoc
	if err := xml.Unmarshal([]byte(reportXML), &doc); err != nil {
		return summary
	}

	hosts := doc.Hosts
	if len(hosts) == 0 {
		hosts = doc.FlatHosts
	}
	results := doc.Results
	if len(results) == 0 {
		results = doc.FlatResults
	}

	seen := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		ip := strings.TrimSpace(h.IP)
		if ip == "" || seen[ip] {
			continue
		}
		seen[ip] = true
		summary.HostsScanned++
	}

	for _, r := range results {
		switch bucketFor(r) {
		case "high":
			summary.VulnsHigh++
		case "medium":
			summary.VulnsMedium++
		case "low":
			summary.VulnsLow++
		default:
			summary.VulnsLog++
		}
	}

	return summary
}

func bucketFor(r reportResult) string {
	switch strings.TrimSpace(r.Threat) {
	case "High":
		return "high"
	case "Medium":
		return "medium"
	case "Low":
		return "low"
	case "Log":
		return "log"
	}

	severity, err := strconv.ParseFloat(strings.TrimSpace(r.Severity), 64)
	if err != nil {
		return "log"
	}
	switch {
	case severity >= 7.0:
		return "high"
	case severity >= 4.0:
		return "medium"
	case severity > 0:
		return "low"
	default:
		return "log"
	}
}
