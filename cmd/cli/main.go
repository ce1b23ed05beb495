package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/orderclient"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	customers   []string
	scenarios   []scenario
	selectedCus int
	selectedScn int
	status      string
	details     string
	busy        bool
}

func initialModel() model {
	return model{
		customers: []string{"cust-alice", "cust-bob", "cust-carol"},
		scenarios: []scenario{
			{"place", "Place a two-vendor order"},
			{"list", "List my orders"},
			{"ship", "Vendors ship their sub-orders"},
			{"race", "Concurrent buyers for the last units"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedCus > 0 {
				m.selectedCus--
			}
		case "down":
			if m.selectedCus < len(m.customers)-1 {
				m.selectedCus++
			}
		case "left":
			if m.selectedScn > 0 {
				m.selectedScn--
			}
		case "right":
			if m.selectedScn < len(m.scenarios)-1 {
				m.selectedScn++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.customers[m.selectedCus], m.scenarios[m.selectedScn].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.details = msg.details
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "tx-lab-marketplace-go CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Customer:")
	for i, c := range m.customers {
		marker := " "
		if i == m.selectedCus {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s\n", marker, c)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios (use left/right):")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selectedScn {
			marker = "*"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.details != "" {
		fmt.Fprintln(b, m.details)
	}
	fmt.Fprintln(b, "\nControls: up/down select customer, left/right select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	details string
}

var (
	admin   = domain.Principal{ID: "cli-admin", Role: domain.RoleAdmin}
	vendors = []string{"vendor-books", "vendor-tea"}
)

func runScenarioCmd(customer, scn string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c := orderclient.New(getenv("ORDER_BASE_URL", "http://localhost:8080"), nil)
		who := domain.Principal{ID: customer, Role: domain.RoleCustomer}

		switch scn {
		case "list":
			return listOrders(ctx, c, who)
		case "ship":
			return shipLatest(ctx, c, who)
		case "race":
			return race(ctx, c)
		default:
			return placeDemo(ctx, c, who)
		}
	}
}

func seedCatalog(ctx context.Context, c *orderclient.Client) error {
	products := []domain.Product{
		{ID: "sku-book-1", Name: "Go in Practice", Price: decimal.RequireFromString("10.00"), Stock: 1000, VendorID: vendors[0]},
		{ID: "sku-tea-1", Name: "Sencha 100g", Price: decimal.RequireFromString("20.00"), Stock: 1000, VendorID: vendors[1]},
	}
	for _, p := range products {
		if err := c.UpsertProduct(ctx, admin, p); err != nil {
			return err
		}
	}
	return nil
}

func placeDemo(ctx context.Context, c *orderclient.Client, who domain.Principal) scenarioResult {
	if err := seedCatalog(ctx, c); err != nil {
		return scenarioResult{status: fmt.Sprintf("Seeding catalog failed: %v", err)}
	}
	res, err := c.PlaceOrder(ctx, who, []domain.CartItem{
		{ProductID: "sku-book-1", Quantity: 2},
		{ProductID: "sku-tea-1", Quantity: 1},
	}, uuid.NewString())
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Place order failed: %v", err)}
	}
	return scenarioResult{status: "Order placed: " + res.Order.ID, details: describeOrder(res.Order)}
}

func listOrders(ctx context.Context, c *orderclient.Client, who domain.Principal) scenarioResult {
	recs, err := c.ListOrders(ctx, who, "", "", 10)
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("List failed: %v", err)}
	}
	b := &strings.Builder{}
	for _, r := range recs {
		if r.Order != nil {
			fmt.Fprintf(b, "%s  %-10s  %s\n", r.Order.ID, r.Order.Status, r.Order.TotalAmount.StringFixed(2))
		}
	}
	return scenarioResult{status: fmt.Sprintf("%d orders", len(recs)), details: b.String()}
}

func shipLatest(ctx context.Context, c *orderclient.Client, who domain.Principal) scenarioResult {
	recs, err := c.ListOrders(ctx, who, domain.StatusPending, "", 1)
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("List failed: %v", err)}
	}
	if len(recs) == 0 || recs[0].Order == nil {
		return scenarioResult{status: "No pending orders, place one first"}
	}
	order := recs[0].Order
	b := &strings.Builder{}
	for _, so := range order.SubOrders {
		vendor := domain.Principal{ID: so.VendorID, Role: domain.RoleVendor}
		up, err := c.SetStatus(ctx, vendor, so.ID, domain.StatusShipped)
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Ship by %s failed: %v", so.VendorID, err)}
		}
		fmt.Fprintf(b, "%s shipped %s, parent now %s (changed=%v)\n", so.VendorID, so.ID, up.ParentStatus, up.ParentChanged)
	}
	return scenarioResult{status: "Order " + order.ID + " shipped", details: b.String()}
}

// race lets several customers compete for a product with three units left.
func race(ctx context.Context, c *orderclient.Client) scenarioResult {
	sku := "sku-race-" + uuid.NewString()[:8]
	if err := c.UpsertProduct(ctx, admin, domain.Product{ID: sku, Name: "Limited", Price: decimal.NewFromInt(5), Stock: 3, VendorID: vendors[0]}); err != nil {
		return scenarioResult{status: fmt.Sprintf("Seeding failed: %v", err)}
	}

	const buyers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		rejected = map[string]int{}
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := domain.Principal{ID: fmt.Sprintf("racer-%d", i), Role: domain.RoleCustomer}
			_, err := c.PlaceOrder(ctx, who, []domain.CartItem{{ProductID: sku, Quantity: 1}}, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
				return
			}
			if apiErr, ok := err.(*orderclient.APIError); ok {
				rejected[apiErr.ErrorResponse.Error]++
				return
			}
			rejected["transport"]++
		}(i)
	}
	wg.Wait()
	return scenarioResult{
		status:  fmt.Sprintf("%d of %d buyers got the product", won, buyers),
		details: fmt.Sprintf("rejections: %v", rejected),
	}
}

func describeOrder(o *domain.Order) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "total %s, status %s\n", o.TotalAmount.StringFixed(2), o.Status)
	for _, so := range o.SubOrders {
		fmt.Fprintf(b, "  %s  %-14s %s\n", so.ID, so.VendorID, so.Amount.StringFixed(2))
	}
	return b.String()
}

func main() {
	runCmd := flag.String("run", "", "run scenario: place|list|ship|race")
	customer := flag.String("customer", "cust-alice", "customer id to act as")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*customer, *runCmd)().(scenarioResult)
		fmt.Println(res.status)
		if res.details != "" {
			fmt.Println(res.details)
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
