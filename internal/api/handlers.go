package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wormcells-viz/server/internal/annostore"
	"github.com/wormcells-viz/server/internal/service"
	"github.com/wormcells-viz/server/internal/store"
)

var emptyObject = json.RawMessage("{}")

type heatmapRequest struct {
	GeneIDs   stringList `json:"gene_ids"`
	CellNames stringList `json:"cell_names"`
}

type histogramRequest struct {
	GeneID    string     `json:"gene_id"`
	CellNames stringList `json:"cell_names"`
}

type swarmRequest struct {
	Cell        string    `json:"cell"`
	SortBy      string    `json:"sort_by"`
	Ascending   flexOrder `json:"ascending"`
	MaxNumGenes flexInt   `json:"max_num_genes"`
}

// Legacy handlers keep the /get_data_* envelopes: JSON POST bodies in,
// {"response": ...} out.

func legacyHeatmapHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req heatmapRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		data, err := svc.HeatmapJSON(req.GeneIDs, req.CellNames)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"response": json.RawMessage(data)})
	}
}

func legacyHistogramHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req histogramRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		writeHistogram(w, svc, req.GeneID, req.CellNames)
	}
}

func legacySwarmHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req swarmRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		writeSwarm(w, svc, service.SwarmRequest{
			Cell:   req.Cell,
			RankBy: req.SortBy,
			Order:  string(req.Ascending),
			Limit:  int(req.MaxNumGenes),
		})
	}
}

func allGenesHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Genes())
	}
}

func allCellsHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Cells())
	}
}

// writeHistogram answers a histogram query. An unknown gene or cell yields an
// empty response with the requested gene echoed back.
func writeHistogram(w http.ResponseWriter, svc *service.QueryService, geneID string, cells []string) {
	data, gene, err := svc.HistogramJSON(geneID, cells)
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		writeJSON(w, http.StatusOK, map[string]interface{}{"response": emptyObject, "gene_id": geneID})
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"response": json.RawMessage(data), "gene_id": gene})
	}
}

// writeSwarm answers a swarm query. An unknown cell or a missing reference
// value yields 404 with an empty response and the requested cell echoed back.
func writeSwarm(w http.ResponseWriter, svc *service.QueryService, req service.SwarmRequest) {
	data, cell, err := svc.SwarmJSON(req)
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"response": emptyObject, "cell": req.Cell})
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"response": json.RawMessage(data), "cell": cell})
	}
}

// Dataset-scoped handlers.

func heatmapHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req heatmapRequest
		if r.Method == http.MethodPost {
			if err := decodeBody(r, &req); err != nil {
				writeError(w, err)
				return
			}
		} else {
			q := r.URL.Query()
			req.GeneIDs = parseList(q, "genes")
			req.CellNames = parseList(q, "cells")
		}
		data, err := svc.HeatmapJSON(req.GeneIDs, req.CellNames)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"response": json.RawMessage(data)})
	}
}

func heatmapPNGHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		data, err := svc.HeatmapPNG(parseList(q, "genes"), parseList(q, "cells"), strings.TrimSpace(q.Get("colormap")))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

func histogramHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		writeHistogram(w, svc, q.Get("gene"), parseList(q, "cells"))
	}
}

func histogramTotalsHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res, err := svc.Histogram(q.Get("gene"), parseList(q, "cells"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"gene_id": res.Gene, "totals": res.Totals()})
	}
}

func binsHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		edges := svc.BinEdges()
		writeJSON(w, http.StatusOK, map[string]interface{}{"edges": edges, "n_bins": len(edges)})
	}
}

func swarmHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := parseLimit(q, "limit")
		if err != nil {
			writeError(w, err)
			return
		}
		writeSwarm(w, svc, service.SwarmRequest{
			Cell:   q.Get("cell"),
			RankBy: q.Get("rank_by"),
			Order:  q.Get("order"),
			Limit:  limit,
		})
	}
}

func genesHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		genes := svc.Genes()
		writeJSON(w, http.StatusOK, map[string]interface{}{"genes": genes, "total": len(genes)})
	}
}

func cellsHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cells := svc.Cells()
		writeJSON(w, http.StatusOK, map[string]interface{}{"cells": cells, "total": len(cells)})
	}
}

func annotationHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Annotation(r.Context(), chi.URLParam(r, "gene"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func annotationsHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.Annotations(r.Context(), parseList(r.URL.Query(), "genes"))
		if err != nil {
			writeError(w, err)
			return
		}
		if items == nil {
			items = []annostore.Annotation{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
	}
}

func statsHandler(svc *service.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Stats())
	}
}
