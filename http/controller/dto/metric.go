package dto

// MetricRangeQueryDTO selects one retention tier over a time window.
type MetricRangeQueryDTO struct {
	Tier string `form:"tier" binding:"omitempty,oneof=raw hourly daily"`
	From string `form:"from" binding:"required"`
	To   string `form:"to" binding:"required"`
}
