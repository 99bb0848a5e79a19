/*
Copyright 2025 Openshelf Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/openshelf/openshelf/api/model"
	"github.com/openshelf/openshelf/internal/apierror"
)

// LookupEdition serves the interactive ISBN lookup. A 404 is a normal answer
// here; it also seeds a background backfill for the missed ISBN.
func (a Api) LookupEdition(c *gin.Context) {
	isbn, passed := c.Params.Get("isbn")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "isbn is required. pass isbn in the route /:isbn"})
		return
	}

	resp, err := a.shelf.LookupEdition(c.Request.Context(), isbn)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) BatchEnrich(c *gin.Context) {
	var req model2.BatchEnrich
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := req.ValidateBatchEnrich(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	records, err := a.shelf.EnrichBatch(c.Request.Context(), req.ISBNs, req.Priority)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	found := make([]string, 0, len(records))
	missed := make([]string, 0)
	for _, isbn := range req.ISBNs {
		if rec, ok := records[isbn]; ok && rec != nil {
			found = append(found, isbn)
		} else {
			missed = append(missed, isbn)
		}
	}
	c.JSON(http.StatusOK, gin.H{"found": found, "missed": missed})
}
