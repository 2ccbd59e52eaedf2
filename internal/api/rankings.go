package api

import (
	"net/http"
	"strconv"
	"time"

	"commerce-service/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	dateLayout      = "20060102"
	defaultPageSize = 20
	maxPageSize     = 100
)

type rankingsResponse struct {
	Rankings      []service.RankingEntry `json:"rankings"`
	TotalElements int64                  `json:"totalElements"`
	TotalPages    int64                  `json:"totalPages"`
	Page          int                    `json:"page"`
	Size          int                    `json:"size"`
	Date          string                 `json:"date"`
}

type productRankResponse struct {
	ProductID int64  `json:"productId"`
	Rank      *int64 `json:"rank"`
	Date      string `json:"date"`
}

// rankingDate parses ?date=yyyyMMdd; a missing or malformed date is today
func (h *Handler) rankingDate(c *gin.Context) time.Time {
	loc := h.svc.Rankings.Location()
	if raw := c.Query("date"); raw != "" {
		if d, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
			return d
		}
	}
	return h.svc.Rankings.Today()
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// getRankings returns a page of the daily leaderboard
func (h *Handler) getRankings(c *gin.Context) {
	date := h.rankingDate(c)
	page := max(queryInt(c, "page", 0), 0)
	size := queryInt(c, "size", defaultPageSize)
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)

	result := h.svc.Rankings.PageRankings(c.Request.Context(), date, page, size)
	totalPages := (result.Total + int64(size) - 1) / int64(size)

	c.JSON(http.StatusOK, rankingsResponse{
		Rankings:      result.Entries,
		TotalElements: result.Total,
		TotalPages:    totalPages,
		Page:          page,
		Size:          size,
		Date:          date.Format(dateLayout),
	})
}

// getProductRank returns the rank of one product, null when unranked
func (h *Handler) getProductRank(c *gin.Context) {
	productID, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	date := h.rankingDate(c)
	resp := productRankResponse{ProductID: productID, Date: date.Format(dateLayout)}
	if rank, ok := h.svc.Rankings.RankOf(c.Request.Context(), productID, date); ok {
		resp.Rank = &rank
	}
	c.JSON(http.StatusOK, resp)
}
