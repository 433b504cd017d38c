package model

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Вид модификатора позиции.
type ModifierKind string

const (
	// Вариация задаёт абсолютную цену единицы (Regular/Large и т.п.).
	ModifierKindVariation ModifierKind = "variation"
	// Добавка прибавляется к цене единицы.
	ModifierKindAddon ModifierKind = "addon"
	// Заметка на цену не влияет.
	ModifierKindNote ModifierKind = "note"
)

// Modifier — значение внутри JSON-колонки позиции заказа.
type Modifier struct {
	Kind  ModifierKind `json:"kind"`
	Name  string       `json:"name"`
	Price float64      `json:"price"`
}

// EncodeModifiers сериализует модификаторы в JSON-колонку.
func EncodeModifiers(mods []Modifier) (datatypes.JSON, error) {
	if len(mods) == 0 {
		return datatypes.JSON("[]"), nil
	}
	raw, err := json.Marshal(mods)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// DecodeModifiers разбирает JSON-колонку обратно в значения.
func DecodeModifiers(raw datatypes.JSON) ([]Modifier, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var mods []Modifier
	if err := json.Unmarshal(raw, &mods); err != nil {
		return nil, err
	}
	return mods, nil
}
