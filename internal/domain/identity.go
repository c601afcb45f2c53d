package domain

// Identity — зарегистрированный участник чата. Неизменяемый после создания.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
