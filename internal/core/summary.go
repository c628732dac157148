package core

import "sort"

// CategoryAggregate is the total of one category within a summary window.
type CategoryAggregate struct {
	CategoryID string `json:"categoryId"`
	Name       string `json:"name"`
	Amount     int64  `json:"amount"`
}

// StatisticsSummary aggregates income and expense for a ledger. Transfers
// never contribute.
type StatisticsSummary struct {
	Income            int64               `json:"income"`
	Expense           int64               `json:"expense"`
	Balance           int64               `json:"balance"`
	IncomeByCategory  []CategoryAggregate `json:"incomeByCategory"`
	ExpenseByCategory []CategoryAggregate `json:"expenseByCategory"`
}

// Summarize folds transactions into a summary. names resolves category ids;
// unknown ids fall back to the id itself. Deleted transactions are skipped.
func Summarize(txs []Transaction, names map[string]string) StatisticsSummary {
	var s StatisticsSummary
	income := map[string]int64{}
	expense := map[string]int64{}
	var incomeOrder, expenseOrder []string
	for _, t := range txs {
		if t.Deleted {
			continue
		}
		switch t.Type {
		case Income:
			s.Income += t.Amount
			if t.CategoryID != "" {
				if _, ok := income[t.CategoryID]; !ok {
					incomeOrder = append(incomeOrder, t.CategoryID)
				}
				income[t.CategoryID] += t.Amount
			}
		case Expense:
			s.Expense += t.Amount
			if t.CategoryID != "" {
				if _, ok := expense[t.CategoryID]; !ok {
					expenseOrder = append(expenseOrder, t.CategoryID)
				}
				expense[t.CategoryID] += t.Amount
			}
		}
	}
	s.Balance = s.Income - s.Expense
	s.IncomeByCategory = aggregate(incomeOrder, income, names)
	s.ExpenseByCategory = aggregate(expenseOrder, expense, names)
	return s
}

func aggregate(order []string, totals map[string]int64, names map[string]string) []CategoryAggregate {
	out := make([]CategoryAggregate, 0, len(order))
	for _, id := range order {
		name, ok := names[id]
		if !ok {
			name = id
		}
		out = append(out, CategoryAggregate{CategoryID: id, Name: name, Amount: totals[id]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount > out[j].Amount })
	return out
}
