package sales

import (
	"math/rand"
	"time"
)

var (
	organizations = []string{"Acme Corp", "Globex", "Soylent Corp", "Initech", "Umbrella Corp", "Stark Ind", "Wayne Ent", "Cyberdyne"}
	products      = []string{"Laptop", "Mouse", "Monitor", "Keyboard", "Server", "License", "Support"}
	regions       = []string{"North", "South", "East", "West"}

	firstSaleDate = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	lastSaleDate  = time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
)

// Sale is one row of the sales_data table.
type Sale struct {
	ID           int64
	Organization string
	Product      string
	SalesAmount  float64
	Quantity     int
	SaleDate     time.Time
	Year         int
	Quarter      string
	Month        string
	Region       string
}

type Generator struct {
	rnd      *rand.Rand
	sequence int64
	spanDays int
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd:      rand.New(rand.NewSource(seed)),
		spanDays: int(lastSaleDate.Sub(firstSaleDate).Hours() / 24),
	}
}

func (g *Generator) Next() Sale {
	g.sequence++
	saleDate := firstSaleDate.AddDate(0, 0, g.rnd.Intn(g.spanDays))
	quantity := g.rnd.Intn(50) + 1
	unitPrice := g.rnd.Intn(4901) + 100

	return Sale{
		ID:           g.sequence,
		Organization: pickOne(g.rnd, organizations),
		Product:      pickOne(g.rnd, products),
		SalesAmount:  float64(quantity * unitPrice),
		Quantity:     quantity,
		SaleDate:     saleDate,
		Year:         saleDate.Year(),
		Quarter:      quarterOf(saleDate.Month()),
		Month:        saleDate.Month().String(),
		Region:       pickOne(g.rnd, regions),
	}
}

// Generate returns the next n sales.
func (g *Generator) Generate(n int) []Sale {
	out := make([]Sale, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Next())
	}
	return out
}

func quarterOf(month time.Month) string {
	switch {
	case month <= time.March:
		return "Q1"
	case month <= time.June:
		return "Q2"
	case month <= time.September:
		return "Q3"
	default:
		return "Q4"
	}
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
