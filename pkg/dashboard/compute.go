package dashboard

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/malbeclabs/analyst/pkg/dataset"
)

const (
	colSales       = "Sales"
	colOrderID     = "Order ID"
	colOrderDate   = "Order Date"
	colCategory    = "Category"
	colSubCategory = "Sub-Category"

	growthWindow = 180 * 24 * time.Hour
	trendMonths  = 12
	recentOrders = 3
)

// customerColumns are tried in order to identify customers.
var customerColumns = []string{"Customer ID", "Customer Name"}

var errMissingColumns = errors.New("dataset lacks the columns the dashboard needs")

type row struct {
	orderID     string
	customer    string
	sales       float64
	date        time.Time
	category    string
	subCategory string
	index       int
}

// Compute derives the dashboard from a dataset. It fails when a required column is
// missing or has the wrong type.
func Compute(ds *dataset.Dataset) (*Data, error) {
	rows, err := extractRows(ds)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("dataset has no dated orders")
	}

	var totalSales float64
	orders := map[string]float64{}
	customers := map[string]struct{}{}
	var latest time.Time
	for _, r := range rows {
		totalSales += r.sales
		orders[r.orderID] += r.sales
		customers[r.customer] = struct{}{}
		if r.date.After(latest) {
			latest = r.date
		}
	}
	var orderTotals float64
	for _, v := range orders {
		orderTotals += v
	}
	avgOrder := orderTotals / float64(len(orders))

	cutoff := latest.Add(-growthWindow)
	var recentSales, oldSales float64
	recentCustomers := map[string]struct{}{}
	oldCustomers := map[string]struct{}{}
	for _, r := range rows {
		if r.date.Before(cutoff) {
			oldSales += r.sales
			oldCustomers[r.customer] = struct{}{}
		} else {
			recentSales += r.sales
			recentCustomers[r.customer] = struct{}{}
		}
	}
	salesGrowth := growth(recentSales, oldSales)
	customerGrowth := growth(float64(len(recentCustomers)), float64(len(oldCustomers)))

	return &Data{
		Metrics: []Metric{
			{ID: "1", Label: "Total Sales", Value: fmt.Sprintf("$ %.1fK", totalSales/1000), Change: round1(salesGrowth), Trend: trend(salesGrowth), Color: "primary"},
			{ID: "2", Label: "Total of Customers", Value: len(customers), Change: round1(customerGrowth), Trend: trend(customerGrowth), Color: "success"},
			{ID: "3", Label: "Average Order Value", Value: fmt.Sprintf("$ %.2f", avgOrder), Change: 0, Trend: "up", Color: "warning"},
			{ID: "4", Label: "Total of Orders", Value: len(orders), Change: 0, Trend: "up", Color: "secondary"},
		},
		ChartData:      monthlyTrend(rows),
		RecentActivity: recentActivity(rows),
	}, nil
}

func extractRows(ds *dataset.Dataset) ([]row, error) {
	if ds == nil || ds.IsEmpty() {
		return nil, errMissingColumns
	}
	sales, err := typedColumn(ds, colSales, dataset.TypeNumeric)
	if err != nil {
		return nil, err
	}
	dates, err := typedColumn(ds, colOrderDate, dataset.TypeTimestamp)
	if err != nil {
		return nil, err
	}
	orderIDs, err := ds.Column(colOrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMissingColumns, err)
	}
	var customer *dataset.Column
	for _, name := range customerColumns {
		if c, err := ds.Column(name); err == nil {
			customer = c
			break
		}
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: no customer column", errMissingColumns)
	}
	category, _ := ds.Column(colCategory)
	subCategory, _ := ds.Column(colSubCategory)

	rows := make([]row, 0, ds.Len())
	for i := range ds.Len() {
		date, ok := dates.Values[i].(time.Time)
		if !ok || date.IsZero() {
			continue
		}
		r := row{
			orderID:  dataset.FormatValue(orderIDs.Values[i]),
			customer: dataset.FormatValue(customer.Values[i]),
			date:     date,
			index:    i,
		}
		if f, ok := sales.Values[i].(float64); ok && !math.IsNaN(f) {
			r.sales = f
		}
		if category != nil {
			r.category = dataset.FormatValue(category.Values[i])
		}
		if subCategory != nil {
			r.subCategory = dataset.FormatValue(subCategory.Values[i])
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func typedColumn(ds *dataset.Dataset, name string, typ dataset.ColumnType) (*dataset.Column, error) {
	c, err := ds.Column(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMissingColumns, err)
	}
	if c.Type != typ {
		return nil, fmt.Errorf("%w: column %q is %s, want %s", errMissingColumns, name, c.Type, typ)
	}
	return c, nil
}

// monthlyTrend sums sales and counts distinct customers per month, keeping the last
// twelve months that have orders.
func monthlyTrend(rows []row) []ChartPoint {
	type bucket struct {
		sales     float64
		customers map[string]struct{}
	}
	buckets := map[time.Time]*bucket{}
	for _, r := range rows {
		month := time.Date(r.date.Year(), r.date.Month(), 1, 0, 0, 0, 0, time.UTC)
		b, ok := buckets[month]
		if !ok {
			b = &bucket{customers: map[string]struct{}{}}
			buckets[month] = b
		}
		b.sales += r.sales
		b.customers[r.customer] = struct{}{}
	}
	months := make([]time.Time, 0, len(buckets))
	for m := range buckets {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	if len(months) > trendMonths {
		months = months[len(months)-trendMonths:]
	}

	out := make([]ChartPoint, len(months))
	for i, m := range months {
		b := buckets[m]
		out[i] = ChartPoint{
			Name:      m.Format("Jan") + "/" + m.Format("06"),
			Value:     int64(b.sales),
			Customers: int64(len(b.customers)),
		}
	}
	return out
}

func recentActivity(rows []row) []Activity {
	sorted := append([]row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].date.After(sorted[j].date) })
	n := min(recentOrders, len(sorted))
	out := make([]Activity, n)
	for i, r := range sorted[:n] {
		id := r.orderID
		if len(id) > 8 {
			id = id[:8]
		}
		desc := r.category
		if r.subCategory != "" {
			desc += " - " + r.subCategory
		}
		out[i] = Activity{
			ID:          strconv.Itoa(r.index),
			Title:       "Order #" + id,
			Description: fmt.Sprintf("%s ($ %.2f)", desc, r.sales),
			Timestamp:   r.date.Format(time.RFC3339),
			Type:        "success",
		}
	}
	return out
}

func growth(recent, old float64) float64 {
	if old <= 0 {
		return 0
	}
	return (recent - old) / old * 100
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func trend(change float64) string {
	if change > 0 {
		return "up"
	}
	return "down"
}

// Mock returns placeholder figures for when the dataset cannot back the dashboard.
func Mock(now time.Time) *Data {
	ts := now.Format(time.RFC3339)
	return &Data{
		Mock: true,
		Metrics: []Metric{
			{ID: "1", Label: "Total of Users", Value: 12543, Change: 12.5, Trend: "up", Color: "primary"},
			{ID: "2", Label: "Monthly Revenue", Value: "$ 45.2K", Change: 8.3, Trend: "up", Color: "success"},
			{ID: "3", Label: "Conversion Rate", Value: "3.24%", Change: -2.1, Trend: "down", Color: "warning"},
			{ID: "4", Label: "Engagement", Value: "68.5%", Change: 5.7, Trend: "up", Color: "secondary"},
		},
		ChartData: []ChartPoint{
			{Name: "Jan", Value: 4000, Customers: 2400},
			{Name: "Feb", Value: 3000, Customers: 1398},
			{Name: "Mar", Value: 2000, Customers: 9800},
			{Name: "Apr", Value: 2780, Customers: 3908},
			{Name: "May", Value: 1890, Customers: 4800},
			{Name: "Jun", Value: 2390, Customers: 3800},
			{Name: "Jul", Value: 3490, Customers: 4300},
		},
		RecentActivity: []Activity{
			{ID: "1", Title: "New user registered", Description: "A new account was created", Timestamp: ts, Type: "info"},
			{ID: "2", Title: "Analysis finished", Description: "Q2 sales report", Timestamp: ts, Type: "success"},
			{ID: "3", Title: "Performance alert", Description: "Response time above normal", Timestamp: ts, Type: "warning"},
		},
	}
}
