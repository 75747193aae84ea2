package models

import "fmt"

type TransferStatus string

const (
	TransferStatusSending  TransferStatus = "sending"
	TransferStatusReceived TransferStatus = "received"
)

type ReturnStatus string

const (
	ReturnStatusPending   ReturnStatus = "pending"
	ReturnStatusStock     ReturnStatus = "stock"
	ReturnStatusConfirmed ReturnStatus = "confirmed"
)

// IsTerminal reports whether no further transition is allowed.
func (s ReturnStatus) IsTerminal() bool {
	return s == ReturnStatusStock || s == ReturnStatusConfirmed
}

type ExpenseCategory string

const (
	ExpenseCategoryRefund ExpenseCategory = "Refund"
)

// StockDocType tags inventory movements with the document that caused them.
type StockDocType string

const (
	StockDocTypeSale     StockDocType = "SA"
	StockDocTypeReceipt  StockDocType = "RC"
	StockDocTypeTransfer StockDocType = "TR"
	StockDocTypeReturn   StockDocType = "RT"
)

// Movement doc refs. Sales use their sale number; the rest use the
// document's row id behind its doc-type prefix.
func FormatTransferRef(id int) string { return fmt.Sprintf("TR-%d", id) }
func FormatReceiptRef(id int) string  { return fmt.Sprintf("RC-%d", id) }
func FormatReturnRef(id int) string   { return fmt.Sprintf("RT-%d", id) }
