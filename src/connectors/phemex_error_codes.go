package connectors

import "fmt"

// phemexErrorCodes names the bizError codes returned by the trading endpoints.
var phemexErrorCodes = map[int]string{
	11001: "TE_SUCCESS",
	11002: "TE_UNKNOWN_ERROR",
	11003: "TE_INVALID_ARGUMENT",
	11005: "TE_MAINTENANCE_MODE",
	11011: "TE_REDUCE_ONLY_ABORT",
	11012: "TE_REPLACE_TO_INVALID_QTY",
	11013: "TE_REPLACE_TO_INVALID_PRICE",
	11014: "TE_REPLACE_TO_INVALID_LEVERAGE",
	11015: "TE_PRICE_TOO_SMALL",
	11016: "TE_PRICE_TOO_LARGE",
	11017: "TE_QTY_TOO_SMALL",
	11018: "TE_QTY_TOO_LARGE",
	11019: "TE_VALUE_TOO_SMALL",
	11020: "TE_VALUE_TOO_LARGE",
	11021: "TE_TOTAL_ORDER_VALUE_TOO_LARGE",
	11022: "TE_STOP_PRICE_INVALID",
	11037: "TE_USER_NOT_EXIST",
	11040: "TE_MARGIN_ACCOUNT_NOT_EXIST",
	11041: "TE_MARGIN_ACCOUNT_FROZEN",
	11050: "TE_RISK_LIMIT_EXCEEDED",
	11051: "TE_INSUFFICIENT_BALANCE",
	11052: "TE_INSUFFICIENT_MARGIN",
	11060: "TE_POSITION_MISMATCH",
	11061: "TE_POSITION_MARGIN_INVALID",
	11062: "TE_POSITION_NOT_EXIST",
	11063: "TE_TPSL_TOO_SMALL",
	11064: "TE_TPSL_TOO_LARGE",
	11065: "TE_TPSL_INVALID_TYPE",
	11066: "TE_ORDER_UNSUPPORTED",
	11067: "TE_ORDER_DISABLED",
	11070: "TE_MARKET_CLOSED",
	11071: "TE_RESTRICTED_REGION",
	11081: "TE_CLIENT_ID_EXIST",
	11082: "TE_CLIENT_ID_INVALID",
	11100: "TE_TOO_MANY_ORDERS",
	11101: "TE_TOO_MANY_ORDERS_PER_SIDE",
	11102: "TE_TOO_MANY_ORDERS_PER_PRICE",
	11103: "TE_FUTURES_INVALID_MARGIN_ACCOUNT",
	11104: "TE_FUTURES_INVALID_POSITION",
	11120: "TE_CONTRACT_NOT_FOUND",
	11121: "TE_CONTRACT_NOT_ALLOWED",
}

// phemexErrorCode turns a numeric bizError into the ErrorCode stored on orders.
func phemexErrorCode(code int) string {
	if name, ok := phemexErrorCodes[code]; ok {
		return name
	}
	return fmt.Sprintf("PHEMEX_%d", code)
}
