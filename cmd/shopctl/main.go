// shopctl is an interactive smoke client for a running shop-api. Every
// scenario seeds its own user, customer and product, walks one order flow end
// to end and reports what the API answered.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios []scenario
	selected  int
	status    string
	detail    string
	busy      bool
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"checkout", "Place an order"},
			{"pay", "Place and charge an order"},
			{"refund", "Place, charge and refund an order"},
			{"delete", "Place and delete an order, check stock comes back"},
			{"oversell", "Order more than the stock, expect a conflict"},
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
			if m.selected > 0 {
				m.selected--
			}
		case "down":
			if m.selected < len(m.scenarios)-1 {
				m.selected++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			m.detail = ""
			return m, runScenarioCmd(m.scenarios[m.selected].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.detail = msg.detail
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "DokonUz shopctl")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.detail != "" {
		fmt.Fprintf(b, "Detail: %s\n", m.detail)
	}
	fmt.Fprintln(b, "\nControls: up/down select, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status string
	detail string
}

func runScenarioCmd(name string) tea.Cmd {
	return func() tea.Msg {
		baseURL := strings.TrimRight(getenv("SHOP_BASE_URL", "http://localhost:8080"), "/")
		c, err := newClient(baseURL)
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Setup failed: %v", err)}
		}
		return c.run(name)
	}
}

type client struct {
	baseURL    string
	http       *http.Client
	token      string
	customerID string
	productID  string
}

// newClient registers a throwaway user and seeds a customer and a product
// with 5 units of stock.
func newClient(baseURL string) (*client, error) {
	c := &client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
	suffix := uuid.NewString()[:8]
	username := "shopctl-" + suffix

	if _, _, err := c.post("/api/user/register", map[string]any{
		"username": username, "password": "shopctl-secret",
	}); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	_, login, err := c.post("/api/user/login", map[string]any{
		"username": username, "password": "shopctl-secret",
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.token, _ = login["token"].(string)

	_, customer, err := c.post("/api/customers/", map[string]any{
		"name": "shopctl " + suffix, "email": username + "@shopctl.local",
	})
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	c.customerID, _ = customer["id"].(string)

	_, product, err := c.post("/api/products/", map[string]any{
		"name": "shopctl product " + suffix, "price": "12.50", "stock": 5,
	})
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	c.productID, _ = product["id"].(string)

	return c, nil
}

func (c *client) run(name string) scenarioResult {
	switch name {
	case "checkout":
		_, order, err := c.placeOrder(2)
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
		}
		return scenarioResult{
			status: "Checkout OK",
			detail: fmt.Sprintf("order=%v total=%v status=%v", order["id"], order["total_amount"], order["payment_status"]),
		}

	case "pay":
		_, order, err := c.placeOrder(2)
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
		}
		_, paid, err := c.post("/api/payments/charge", map[string]any{"order_id": order["id"]})
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Charge failed: %v", err)}
		}
		return scenarioResult{
			status: "Payment OK",
			detail: fmt.Sprintf("order=%v status=%v gateway_ref=%v", paid["id"], paid["payment_status"], paid["gateway_ref"]),
		}

	case "refund":
		_, order, err := c.placeOrder(1)
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
		}
		if _, _, err := c.post("/api/payments/charge", map[string]any{"order_id": order["id"]}); err != nil {
			return scenarioResult{status: fmt.Sprintf("Charge failed: %v", err)}
		}
		_, refunded, err := c.post("/api/payments/refund", map[string]any{"order_id": order["id"]})
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Refund failed: %v", err)}
		}
		return scenarioResult{
			status: "Refund OK",
			detail: fmt.Sprintf("order=%v status=%v", refunded["id"], refunded["payment_status"]),
		}

	case "delete":
		_, order, err := c.placeOrder(3)
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
		}
		orderID, _ := order["id"].(string)
		if err := c.delete("/api/orders/" + orderID); err != nil {
			return scenarioResult{status: fmt.Sprintf("Delete failed: %v", err)}
		}
		stock, err := c.stock()
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Stock check failed: %v", err)}
		}
		if stock != 5 {
			return scenarioResult{status: "Delete FAILED", detail: fmt.Sprintf("stock=%d, want 5", stock)}
		}
		return scenarioResult{status: "Delete OK", detail: "stock restored to 5"}

	case "oversell":
		status, _, err := c.placeOrder(6)
		if err == nil {
			return scenarioResult{status: "Oversell FAILED", detail: "a 6-unit order on 5 units of stock went through"}
		}
		if status != http.StatusConflict {
			return scenarioResult{status: "Oversell FAILED", detail: fmt.Sprintf("got status %d, want 409", status)}
		}
		stock, serr := c.stock()
		if serr != nil {
			return scenarioResult{status: fmt.Sprintf("Stock check failed: %v", serr)}
		}
		return scenarioResult{status: "Oversell rejected as expected", detail: fmt.Sprintf("stock untouched at %d", stock)}

	default:
		return scenarioResult{status: fmt.Sprintf("Unknown scenario %q", name)}
	}
}

func (c *client) placeOrder(qty int32) (int, map[string]any, error) {
	return c.post("/api/orders/", map[string]any{
		"customer_id": c.customerID,
		"lines":       []map[string]any{{"product_id": c.productID, "quantity": qty}},
	})
}

func (c *client) stock() (int32, error) {
	resp, err := c.http.Get(c.baseURL + "/api/products/" + c.productID)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var product struct {
		Stock int32 `json:"stock"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return 0, err
	}
	return product.Stock, nil
}

func (c *client) post(path string, payload any) (int, map[string]any, error) {
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out map[string]any
	_ = json.Unmarshal(body, &out)
	return resp.StatusCode, out, nil
}

func (c *client) delete(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func main() {
	runCmd := flag.String("run", "", "run one scenario headless: checkout|pay|refund|delete|oversell")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd)().(scenarioResult)
		fmt.Println(res.status)
		if res.detail != "" {
			fmt.Println(res.detail)
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
