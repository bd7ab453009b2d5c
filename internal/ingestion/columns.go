package ingestion

import "strings"

// ColumnKind selects how a cell is coerced.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInteger
	KindDecimal
)

// Column describes one recognised spreadsheet column.
type Column struct {
	Name     string
	Kind     ColumnKind
	Required bool
}

// Recognised column names.
const (
	FieldClientReference = "clientReference"
	FieldSenderName      = "senderName"
	FieldSenderPhone     = "senderPhone"
	FieldReceiverName    = "receiverName"
	FieldReceiverPhone   = "receiverPhone"
	FieldReceiverAddress = "receiverAddress"
	FieldReceiverCity    = "receiverCity"
	FieldPackageCount    = "packageCount"
	FieldPackageWeight   = "packageWeight"
	FieldServiceType     = "serviceType"
	FieldCarrier         = "carrier"
	FieldDeclaredValue   = "declaredValue"
	FieldCODAmount       = "codAmount"
	FieldNotes           = "notes"
)

// OrderColumns is the column layout of a bulk order sheet.
var OrderColumns = []Column{
	{Name: FieldClientReference, Kind: KindText},
	{Name: FieldSenderName, Kind: KindText, Required: true},
	{Name: FieldSenderPhone, Kind: KindText, Required: true},
	{Name: FieldReceiverName, Kind: KindText, Required: true},
	{Name: FieldReceiverPhone, Kind: KindText, Required: true},
	{Name: FieldReceiverAddress, Kind: KindText, Required: true},
	{Name: FieldReceiverCity, Kind: KindText, Required: true},
	{Name: FieldPackageCount, Kind: KindInteger, Required: true},
	{Name: FieldPackageWeight, Kind: KindDecimal, Required: true},
	{Name: FieldServiceType, Kind: KindText, Required: true},
	{Name: FieldCarrier, Kind: KindText},
	{Name: FieldDeclaredValue, Kind: KindDecimal},
	{Name: FieldCODAmount, Kind: KindDecimal},
	{Name: FieldNotes, Kind: KindText},
}

// headerToken folds "Receiver Name", "receiver_name" and "receiverName" together.
func headerToken(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(value)
}
