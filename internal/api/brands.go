package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/brand-onboarding/internal/domain"
)

// ListBrands returns stored brands newest first. Query params: limit, offset.
func (h *Handler) ListBrands(w http.ResponseWriter, r *http.Request) {
	if h.brands == nil {
		Error(w, http.StatusServiceUnavailable, "brand store not configured")
		return
	}

	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	brands, err := h.brands.ListBrands(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if brands == nil {
		brands = []*domain.Brand{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"brands": brands,
		"limit":  limit,
		"offset": offset,
	})
}

// GetBrand returns one brand with its social media and keywords.
func (h *Handler) GetBrand(w http.ResponseWriter, r *http.Request) {
	if h.brands == nil {
		Error(w, http.StatusServiceUnavailable, "brand store not configured")
		return
	}
	brand, err := h.brands.GetBrand(r.Context(), chi.URLParam(r, "brand_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, brand)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", key, errdefs.ErrInvalidArgument)
	}
	return n, nil
}
