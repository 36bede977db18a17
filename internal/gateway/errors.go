package gateway

// GatewayError возвращается, если шлюз сообщил о неуспешной обработке запроса.
type GatewayError struct {
	Message string
}

func (e *GatewayError) Error() string {
	return "gateway error: " + e.Message
}

// SecurityError возвращается, если входящее уведомление адресовано другой учётной записи.
type SecurityError struct {
	Message string
}

func (e *SecurityError) Error() string {
	return "security error: " + e.Message
}
