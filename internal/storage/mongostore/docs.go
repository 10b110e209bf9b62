package mongostore

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kieracarman/canteen/internal/models"
)

type itemDoc struct {
	ID             string               `bson:"_id"`
	Floor          string               `bson:"floor"`
	Name           string               `bson:"name"`
	NameKey        string               `bson:"name_key"`
	Description    string               `bson:"description,omitempty"`
	Price          primitive.Decimal128 `bson:"price"`
	Category       string               `bson:"category"`
	Stock          int                  `bson:"stock"`
	ImageRef       string               `bson:"image_ref,omitempty"`
	HasCustomImage bool                 `bson:"has_custom_image"`
	UpdatedAt      time.Time            `bson:"updated_at"`
}

type lineDoc struct {
	ItemID   string               `bson:"item_id"`
	Name     string               `bson:"name"`
	Price    primitive.Decimal128 `bson:"price"`
	Category string               `bson:"category"`
	Floor    string               `bson:"floor"`
	Quantity int                  `bson:"quantity"`
}

type snapshotDoc struct {
	CartID       string    `bson:"_id"`
	CustomerName string    `bson:"customer_name,omitempty"`
	Lines        []lineDoc `bson:"lines"`
	SavedAt      time.Time `bson:"saved_at"`
}

type orderItemDoc struct {
	ItemID   string               `bson:"item_id"`
	Name     string               `bson:"name"`
	Quantity int                  `bson:"quantity"`
	Price    primitive.Decimal128 `bson:"price"`
	Total    primitive.Decimal128 `bson:"total"`
}

type orderDoc struct {
	ID            string               `bson:"_id"`
	OrderID       string               `bson:"order_id"`
	Floor         string               `bson:"floor"`
	CustomerName  string               `bson:"customer_name,omitempty"`
	Items         []orderItemDoc       `bson:"items"`
	TotalAmount   primitive.Decimal128 `bson:"total_amount"`
	TotalItems    int                  `bson:"total_items"`
	PaymentStatus string               `bson:"payment_status"`
	TransactionID string               `bson:"transaction_id,omitempty"`
	Status        string               `bson:"status"`
	CreatedAt     time.Time            `bson:"created_at"`
}

type billDoc struct {
	OrderID       string               `bson:"_id"`
	CartID        string               `bson:"cart_id"`
	CustomerName  string               `bson:"customer_name,omitempty"`
	PaymentMethod string               `bson:"payment_method,omitempty"`
	CreatedAt     time.Time            `bson:"created_at"`
	UpdatedAt     time.Time            `bson:"updated_at"`
	Items         []lineDoc            `bson:"items"`
	Subtotal      primitive.Decimal128 `bson:"subtotal"`
	Tax           primitive.Decimal128 `bson:"tax"`
	Total         primitive.Decimal128 `bson:"total"`
	PaymentStatus string               `bson:"payment_status"`
	TransactionID string               `bson:"transaction_id,omitempty"`
	Attempts      int                  `bson:"attempts"`
	Dispatched    bool                 `bson:"dispatched"`
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func orderKey(floor, orderID string) string {
	return floor + "/" + orderID
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode decimal %s: %w", v, err)
	}
	return d, nil
}

func encodeItem(item models.MenuItem) (itemDoc, error) {
	price, err := toDecimal128(item.Price)
	if err != nil {
		return itemDoc{}, err
	}
	return itemDoc{
		ID:             item.ID,
		Floor:          item.Floor,
		Name:           item.Name,
		NameKey:        nameKey(item.Name),
		Description:    item.Description,
		Price:          price,
		Category:       item.Category,
		Stock:          item.Stock,
		ImageRef:       item.ImageRef,
		HasCustomImage: item.HasCustomImage,
		UpdatedAt:      item.UpdatedAt,
	}, nil
}

func (d itemDoc) decode() (models.MenuItem, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return models.MenuItem{}, err
	}
	return models.MenuItem{
		ID:             d.ID,
		Name:           d.Name,
		Description:    d.Description,
		Price:          price,
		Category:       d.Category,
		Floor:          d.Floor,
		Stock:          d.Stock,
		ImageRef:       d.ImageRef,
		HasCustomImage: d.HasCustomImage,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

func encodeLines(lines []models.CartLine) ([]lineDoc, error) {
	out := make([]lineDoc, 0, len(lines))
	for _, l := range lines {
		price, err := toDecimal128(l.Price)
		if err != nil {
			return nil, err
		}
		out = append(out, lineDoc{
			ItemID:   l.ItemID,
			Name:     l.Name,
			Price:    price,
			Category: l.Category,
			Floor:    l.Floor,
			Quantity: l.Quantity,
		})
	}
	return out, nil
}

func decodeLines(docs []lineDoc) ([]models.CartLine, error) {
	out := make([]models.CartLine, 0, len(docs))
	for _, d := range docs {
		price, err := fromDecimal128(d.Price)
		if err != nil {
			return nil, err
		}
		out = append(out, models.CartLine{
			ItemID:   d.ItemID,
			Name:     d.Name,
			Price:    price,
			Category: d.Category,
			Floor:    d.Floor,
			Quantity: d.Quantity,
		})
	}
	return out, nil
}

func encodeSnapshot(snap models.CartSnapshot) (snapshotDoc, error) {
	lines, err := encodeLines(snap.Lines)
	if err != nil {
		return snapshotDoc{}, err
	}
	return snapshotDoc{
		CartID:       snap.CartID,
		CustomerName: snap.CustomerName,
		Lines:        lines,
		SavedAt:      snap.SavedAt,
	}, nil
}

func (d snapshotDoc) decode() (models.CartSnapshot, error) {
	lines, err := decodeLines(d.Lines)
	if err != nil {
		return models.CartSnapshot{}, err
	}
	return models.CartSnapshot{
		CartID:       d.CartID,
		CustomerName: d.CustomerName,
		Lines:        lines,
		SavedAt:      d.SavedAt,
	}, nil
}

func encodeOrder(rec models.OrderRecord) (orderDoc, error) {
	items := make([]orderItemDoc, 0, len(rec.Items))
	for _, it := range rec.Items {
		price, err := toDecimal128(it.Price)
		if err != nil {
			return orderDoc{}, err
		}
		total, err := toDecimal128(it.Total)
		if err != nil {
			return orderDoc{}, err
		}
		items = append(items, orderItemDoc{
			ItemID:   it.ItemID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    price,
			Total:    total,
		})
	}
	amount, err := toDecimal128(rec.TotalAmount)
	if err != nil {
		return orderDoc{}, err
	}
	return orderDoc{
		ID:            orderKey(rec.Floor, rec.OrderID),
		OrderID:       rec.OrderID,
		Floor:         rec.Floor,
		CustomerName:  rec.CustomerName,
		Items:         items,
		TotalAmount:   amount,
		TotalItems:    rec.TotalItems,
		PaymentStatus: string(rec.PaymentStatus),
		TransactionID: rec.TransactionID,
		Status:        string(rec.Status),
		CreatedAt:     rec.CreatedAt,
	}, nil
}

func (d orderDoc) decode() (models.OrderRecord, error) {
	items := make([]models.OrderItem, 0, len(d.Items))
	for _, it := range d.Items {
		price, err := fromDecimal128(it.Price)
		if err != nil {
			return models.OrderRecord{}, err
		}
		total, err := fromDecimal128(it.Total)
		if err != nil {
			return models.OrderRecord{}, err
		}
		items = append(items, models.OrderItem{
			ItemID:   it.ItemID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    price,
			Total:    total,
		})
	}
	amount, err := fromDecimal128(d.TotalAmount)
	if err != nil {
		return models.OrderRecord{}, err
	}
	return models.OrderRecord{
		OrderID:       d.OrderID,
		Floor:         d.Floor,
		CustomerName:  d.CustomerName,
		Items:         items,
		TotalAmount:   amount,
		TotalItems:    d.TotalItems,
		PaymentStatus: models.PaymentStatus(d.PaymentStatus),
		TransactionID: d.TransactionID,
		Status:        models.OrderStatus(d.Status),
		CreatedAt:     d.CreatedAt,
	}, nil
}

func encodeBill(bill models.Bill) (billDoc, error) {
	lines, err := encodeLines(bill.Items)
	if err != nil {
		return billDoc{}, err
	}
	sums := make([]primitive.Decimal128, 3)
	for i, d := range []decimal.Decimal{bill.Subtotal, bill.Tax, bill.Total} {
		if sums[i], err = toDecimal128(d); err != nil {
			return billDoc{}, err
		}
	}
	return billDoc{
		OrderID:       bill.OrderID,
		CartID:        bill.CartID,
		CustomerName:  bill.CustomerName,
		PaymentMethod: bill.PaymentMethod,
		CreatedAt:     bill.CreatedAt,
		UpdatedAt:     bill.UpdatedAt,
		Items:         lines,
		Subtotal:      sums[0],
		Tax:           sums[1],
		Total:         sums[2],
		PaymentStatus: string(bill.PaymentStatus),
		TransactionID: bill.TransactionID,
		Attempts:      bill.Attempts,
		Dispatched:    bill.Dispatched,
	}, nil
}

func (d billDoc) decode() (models.Bill, error) {
	lines, err := decodeLines(d.Items)
	if err != nil {
		return models.Bill{}, err
	}
	var sums [3]decimal.Decimal
	for i, v := range []primitive.Decimal128{d.Subtotal, d.Tax, d.Total} {
		if sums[i], err = fromDecimal128(v); err != nil {
			return models.Bill{}, err
		}
	}
	return models.Bill{
		OrderID:       d.OrderID,
		CartID:        d.CartID,
		CustomerName:  d.CustomerName,
		PaymentMethod: d.PaymentMethod,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		Items:         lines,
		Subtotal:      sums[0],
		Tax:           sums[1],
		Total:         sums[2],
		PaymentStatus: models.PaymentStatus(d.PaymentStatus),
		TransactionID: d.TransactionID,
		Attempts:      d.Attempts,
		Dispatched:    d.Dispatched,
	}, nil
}
