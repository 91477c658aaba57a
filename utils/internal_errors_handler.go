package utils

import "fmt"

// Zero means "no internal error" for SendResponse, so codes start at 1.
const (
	LEADS_INVALID_REQUEST_DATA = iota + 1
	LEADS_CANNOT_PERSIST
	FUNNELS_CANNOT_CREATE_SESSION
	FUNNELS_CANNOT_UPGRADE_WEBSOCKET
	CANNOT_CONNECT_TO_STORE
)

func SendInternalError(internalErrorCode int) string {
	return fmt.Sprintf("Ocorreu um erro interno no servidor. Por favor, tente novamente mais tarde (Cod: %d)", internalErrorCode)
}
