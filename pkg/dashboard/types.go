// Package dashboard computes the KPIs, monthly trend and recent orders shown on the
// dashboard page.
package dashboard

type Metric struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Value  any     `json:"value"`
	Change float64 `json:"change"`
	Trend  string  `json:"trend"`
	Color  string  `json:"color"`
}

type ChartPoint struct {
	Name      string `json:"name"`
	Value     int64  `json:"value"`
	Customers int64  `json:"customers"`
}

type Activity struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
	Type        string `json:"type"`
}

type Data struct {
	Metrics        []Metric     `json:"metrics"`
	ChartData      []ChartPoint `json:"chartData"`
	RecentActivity []Activity   `json:"recentActivity"`
	// Mock is set when the figures are placeholders rather than dataset values.
	Mock bool `json:"mock"`
}

// Preview is one page of raw dataset rows.
type Preview struct {
	Error   string            `json:"error,omitempty"`
	Data    []map[string]any  `json:"data"`
	Total   int               `json:"total"`
	Columns []string          `json:"columns"`
	DTypes  map[string]string `json:"dtypes"`
	Skip    int               `json:"skip"`
	Limit   int               `json:"limit"`
}
