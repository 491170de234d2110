package api

// Transaction kinds as reported by the service.
const (
	TypeIncome  = "INCOME"
	TypeExpense = "EXPENSE"
)

// Dashboard is the aggregate payload backing the main screen.
type Dashboard struct {
	TotalBalance       float64       `json:"totalBalance"`
	MonthlySpend       float64       `json:"monthlySpend"`
	RecentTransactions []Transaction `json:"recentTransactions"`
	Accounts           []Account     `json:"accounts"`
}

type Transaction struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
	Category    string  `json:"category"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	AccountID   string  `json:"accountId"`
}

type Account struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Balance   float64 `json:"balance"`
	IsDefault bool    `json:"isDefault"`
}
