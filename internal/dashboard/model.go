package dashboard

import "time"

type ToteStatus string

const (
	StatusWithClient  ToteStatus = "Con Cliente"
	StatusAvailable   ToteStatus = "Disponible"
	StatusWashing     ToteStatus = "En Lavado"
	StatusMaintenance ToteStatus = "En Mantenimiento"
	StatusInUse       ToteStatus = "En Uso"
	StatusRetired     ToteStatus = "Baja"
)

// Statuses lists every tote status in display order.
var Statuses = []ToteStatus{
	StatusWithClient,
	StatusAvailable,
	StatusWashing,
	StatusMaintenance,
	StatusInUse,
	StatusRetired,
}

type Client struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Contact   string    `gorm:"not null;default:''" json:"contact"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (Client) TableName() string {
	return "clients"
}

type Tote struct {
	ID           string     `gorm:"primaryKey;type:varchar(32)" json:"id"`
	Status       ToteStatus `gorm:"type:varchar(32);not null;index" json:"status"`
	ClientID     *uint      `gorm:"index" json:"clientId"`
	Client       *Client    `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	LastDispatch *time.Time `json:"lastDispatch"`
	CreatedAt    time.Time  `json:"-"`
	UpdatedAt    time.Time  `json:"-"`
}

func (Tote) TableName() string {
	return "totes"
}

// ToteView is a tote with its client's name resolved.
type ToteView struct {
	ID           string     `json:"id"`
	Status       ToteStatus `json:"status"`
	ClientID     *uint      `json:"clientId"`
	ClientName   string     `json:"clientName,omitempty"`
	LastDispatch *time.Time `json:"lastDispatch"`
}

func Models() []any {
	return []any{&Client{}, &Tote{}}
}
