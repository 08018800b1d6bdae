package model

import "time"

// CreditorContact — запись справочника кредиторов (контакты по наименованию).
// Хранится в таблице creditor_directory.
type CreditorContact struct {
	// ID — UUID записи
	ID string
	// Name — наименование кредитора
	Name string
	// NormalizedName — ключ поиска (см. service.NormalizeCreditorName)
	NormalizedName string
	// Email — адрес для переписки
	Email string
	// Address — почтовый адрес
	Address string
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
