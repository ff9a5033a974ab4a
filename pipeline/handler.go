package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/airbusgeo/ewoc-classif/common"
	db "github.com/airbusgeo/ewoc-classif/interface/database"
	"github.com/airbusgeo/ewoc-classif/service/log"
	"github.com/gorilla/mux"
)

// LedgerHandler exposes the block ledger
type LedgerHandler struct {
	Ledger db.LedgerBackend
}

// LedgerBackend returns the ledger of the pipeline if it can be queried
func (p *Pipeline) LedgerBackend() (db.LedgerBackend, bool) {
	l, ok := p.Ledger.(db.LedgerBackend)
	return l, ok
}

// Routes adds the routes of the ledger to the router
func (h *LedgerHandler) Routes(r *mux.Router) {
	r.HandleFunc("/production/{pid}/blocks", h.ListBlocksHandler).Methods("GET")
	r.HandleFunc("/production/{pid}/tile/{tile}", h.DeleteTileHandler).Methods("DELETE")
	r.HandleFunc("/production/{pid}/tile/{tile}/{year}/{season}", h.TileStatusHandler).Methods("GET")
	r.HandleFunc("/production/{pid}/tile/{tile}/{year}/{season}/{block}", h.GetBlockHandler).Methods("GET")
}

func writeError(w http.ResponseWriter, req *http.Request, op string, err error) {
	var nf db.ErrNotFound
	if errors.As(err, &nf) {
		w.WriteHeader(404)
		return
	}
	log.Logger(req.Context()).Sugar().Warnf("%s: %v", op, err)
	w.WriteHeader(500)
	fmt.Fprintf(w, "%v", err)
}

// yearSeason parses the year and the season of the route
func yearSeason(vars map[string]string) (int, common.Season, error) {
	year, err := strconv.Atoi(vars["year"])
	if err != nil {
		return 0, "", fmt.Errorf("invalid year: %s", vars["year"])
	}
	season, err := common.ParseSeason(vars["season"])
	return year, season, err
}

// ListBlocksHandler lists the blocks of a production
// Query parameters: tile (pattern), status, page, limit
func (h *LedgerHandler) ListBlocksHandler(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if status := q.Get("status"); status != "" {
		if _, err := common.StatusString(status); err != nil {
			w.WriteHeader(400)
			fmt.Fprintf(w, "%v", err)
			return
		}
	}
	blocks, err := h.Ledger.Blocks(req.Context(), mux.Vars(req)["pid"], q.Get("tile"), q.Get("status"), page, limit)
	if err != nil {
		writeError(w, req, "ledger.blocks", err)
		return
	}
	json.NewEncoder(w).Encode(blocks)
}

// TileStatusHandler returns the status of the blocks of a tile
func (h *LedgerHandler) TileStatusHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	year, season, err := yearSeason(vars)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	status, err := h.Ledger.BlocksStatus(req.Context(), vars["pid"], vars["tile"], year, season)
	if err != nil {
		writeError(w, req, "ledger.blocksStatus", err)
		return
	}
	json.NewEncoder(w).Encode(struct {
		Status common.Status `json:"status"`
		Blocks db.Status     `json:"blocks"`
	}{status.TileStatus(), status})
}

// GetBlockHandler returns the record of a block
func (h *LedgerHandler) GetBlockHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	year, season, err := yearSeason(vars)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	block, err := strconv.Atoi(vars["block"])
	if err != nil {
		w.WriteHeader(400)
		return
	}
	b, err := h.Ledger.Block(req.Context(), vars["pid"], vars["tile"], year, season, block)
	if err != nil {
		writeError(w, req, "ledger.block", err)
		return
	}
	json.NewEncoder(w).Encode(b)
}

// DeleteTileHandler deletes the records of a tile, so that its blocks can be reprocessed from scratch
func (h *LedgerHandler) DeleteTileHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	n, err := h.Ledger.DeleteBlocks(req.Context(), vars["pid"], vars["tile"])
	if err != nil {
		writeError(w, req, "ledger.deleteBlocks", err)
		return
	}
	fmt.Fprintf(w, "%d", n)
}
