package models

// UnifiedRequest binds GET /market/unified query parameters.
type UnifiedRequest struct {
	Mode    string `query:"mode" default:"full" validate:"oneof=full incremental"`
	Section string `query:"section" validate:"omitempty,oneof=heatmap indices movers"`
	Debug   int    `query:"debug" validate:"gte=0,lte=1"`
}

// BulkQuotesRequest binds POST /market/unified bodies.
type BulkQuotesRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=50,dive,required"`
}

// DataRequest binds GET /market/data query parameters.
type DataRequest struct {
	Section  string `query:"section" validate:"required,oneof=indices movers search quote chart"`
	Category string `query:"category" validate:"omitempty,oneof=gainers losers actives"`
	Query    string `query:"query"`
	Symbol   string `query:"symbol"`
	Range    string `query:"range" default:"1mo"`
	Interval string `query:"interval" default:"1d"`
}
