package handlers

import (
	"encoding/json"
	"net/http"
)

func queryParam(name, description string, required bool, schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    required,
		"schema":      schema,
	}
}

// regionParams are shared by every endpoint that runs a region query
func regionParams(extra ...map[string]interface{}) []map[string]interface{} {
	params := []map[string]interface{}{
		queryParam("elem", "Element: maxt, mint, avgt, pcpn, snow or snwd", true,
			map[string]interface{}{"type": "string", "enum": []string{"maxt", "mint", "avgt", "pcpn", "snow", "snwd"}}),
		queryParam("bbox", "Bounding box west,south,east,north (exclusive with sids)", false,
			map[string]interface{}{"type": "string", "example": "-90.1,37.2,-89.1,38.0"}),
		queryParam("sids", "Comma-separated station ids (exclusive with bbox)", false,
			map[string]interface{}{"type": "string"}),
		queryParam("sdate", "Start date (YYYY-MM-DD); defaults to each station's first valid day", false,
			map[string]interface{}{"type": "string", "format": "date"}),
		queryParam("edate", "End date (YYYY-MM-DD); defaults to each station's last valid day", false,
			map[string]interface{}{"type": "string", "format": "date"}),
		queryParam("min_stations", "Blank days reported by fewer stations", false,
			map[string]interface{}{"type": "integer", "default": 0}),
	}
	return append(params, extra...)
}

func jsonResponse(description string, schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

func errorResponses(ok map[string]interface{}) map[string]interface{} {
	errSchema := map[string]interface{}{"$ref": "#/components/schemas/Error"}
	return map[string]interface{}{
		"200": ok,
		"400": jsonResponse("Invalid parameters", errSchema),
		"422": jsonResponse("Query matched too many stations", errSchema),
		"502": jsonResponse("Upstream data could not be resolved", errSchema),
		"503": jsonResponse("Upstream service unavailable", errSchema),
	}
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the Climate Platform API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	nullableNumbers := map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "number", "nullable": true},
	}
	gridSchema := map[string]interface{}{"$ref": "#/components/schemas/GridResult"}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Climate Platform API",
			"description": "Daily station records from NOAA ACIS resolved into station matrices and calendar grids",
			"version":     "1.0.0",
			"contact": map[string]string{
				"name": "Climate Platform Team",
			},
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/series": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Query a station matrix",
					"description": "Fetch, resolve and align every station in the region onto one daily index. Missing cells are null.",
					"parameters":  regionParams(),
					"responses": errorResponses(jsonResponse("Station matrix", map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"report":   map[string]interface{}{"$ref": "#/components/schemas/QueryReport"},
							"stations": map[string]interface{}{"type": "array", "items": map[string]interface{}{"$ref": "#/components/schemas/Station"}},
							"matrix": map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"dates": map[string]interface{}{"type": "array", "items": map[string]string{"type": "string", "format": "date"}},
									"stations": map[string]interface{}{
										"type": "array",
										"items": map[string]interface{}{
											"type": "object",
											"properties": map[string]interface{}{
												"sid":        map[string]string{"type": "string"},
												"label":      map[string]string{"type": "string"},
												"first_date": map[string]string{"type": "string", "format": "date"},
												"last_date":  map[string]string{"type": "string", "format": "date"},
												"values":     nullableNumbers,
											},
										},
									},
								},
							},
						},
					})),
				},
			},
			"/api/grids/doy": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Day-of-year grid",
					"description": "Cross-station daily mean laid out as 365 (or 366) calendar days by year",
					"parameters": regionParams(queryParam("include_leap_day", "Keep February 29 as its own row", false,
						map[string]interface{}{"type": "boolean", "default": false})),
					"responses": errorResponses(jsonResponse("Calendar grid", gridSchema)),
				},
			},
			"/api/grids/moy": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Month-of-year grid",
					"description": "Station-days pooled per month and year and reduced by the aggregator",
					"parameters": regionParams(queryParam("agg", "Aggregator", false,
						map[string]interface{}{"type": "string", "enum": []string{"max", "min", "mean"}, "default": "mean"})),
					"responses": errorResponses(jsonResponse("Calendar grid", gridSchema)),
				},
			},
			"/api/grids/cumulative": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Cumulative day-of-year grid",
					"description": "Running sum per year. Years with more than max_missing missing days are blanked, except current_year.",
					"parameters": regionParams(
						queryParam("include_leap_day", "Keep February 29 as its own row", false, map[string]interface{}{"type": "boolean"}),
						queryParam("current_year", "Year kept in progress (default: this year)", false, map[string]interface{}{"type": "integer"}),
						queryParam("max_missing", "Missing days tolerated per year; negative keeps all", false, map[string]interface{}{"type": "integer", "default": 10}),
					),
					"responses": errorResponses(jsonResponse("Calendar grid", gridSchema)),
				},
			},
			"/api/climatology": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Day-of-year climatology",
					"description": "Mean, min, max, 5th and 95th percentile per calendar day over a reference period",
					"parameters": regionParams(
						queryParam("include_leap_day", "Keep February 29 as its own row", false, map[string]interface{}{"type": "boolean"}),
						queryParam("start_year", "First reference year (default: chosen from data)", false, map[string]interface{}{"type": "integer"}),
						queryParam("end_year", "Last reference year (default: chosen from data)", false, map[string]interface{}{"type": "integer"}),
						queryParam("max_missing", "Completeness threshold for automatic year selection", false, map[string]interface{}{"type": "integer", "default": 10}),
					),
					"responses": errorResponses(jsonResponse("Climatology", map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"report": map[string]interface{}{"$ref": "#/components/schemas/QueryReport"},
							"climatology": map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"start_year": map[string]string{"type": "integer"},
									"end_year":   map[string]string{"type": "integer"},
									"years":      map[string]string{"type": "integer"},
									"mean":       nullableNumbers,
									"min":        nullableNumbers,
									"max":        nullableNumbers,
									"p05":        nullableNumbers,
									"p95":        nullableNumbers,
								},
							},
						},
					})),
				},
			},
			"/api/stations": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "List stored stations",
					"description": "Stations persisted by queries or the refresh job. Requires a database.",
					"parameters": []map[string]interface{}{
						queryParam("elem", "Filter by element", false, map[string]interface{}{"type": "string"}),
						queryParam("state", "Filter by two-letter state", false, map[string]interface{}{"type": "string"}),
						queryParam("bbox", "Filter by bounding box west,south,east,north", false, map[string]interface{}{"type": "string"}),
						queryParam("page", "Page number (default: 1)", false, map[string]interface{}{"type": "integer", "default": 1}),
						queryParam("limit", "Records per page (default: 100)", false, map[string]interface{}{"type": "integer", "default": 100}),
					},
					"responses": map[string]interface{}{
						"200": jsonResponse("Successful response", map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"data":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"$ref": "#/components/schemas/Station"}},
								"total":       map[string]string{"type": "integer"},
								"page":        map[string]string{"type": "integer"},
								"limit":       map[string]string{"type": "integer"},
								"total_pages": map[string]string{"type": "integer"},
							},
						}),
						"503": jsonResponse("No database configured", map[string]interface{}{"$ref": "#/components/schemas/Error"}),
					},
				},
			},
			"/api/stations/{sid}/series": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Stored station series",
					"description": "One station's persisted resolved series",
					"parameters": []map[string]interface{}{
						{"name": "sid", "in": "path", "required": true, "schema": map[string]string{"type": "string"}},
						queryParam("elem", "Element", true, map[string]interface{}{"type": "string"}),
						queryParam("sdate", "Start date (YYYY-MM-DD)", false, map[string]interface{}{"type": "string", "format": "date"}),
						queryParam("edate", "End date (YYYY-MM-DD)", false, map[string]interface{}{"type": "string", "format": "date"}),
					},
					"responses": map[string]interface{}{
						"200": jsonResponse("Stored series", map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"sid":    map[string]string{"type": "string"},
								"elem":   map[string]string{"type": "string"},
								"sdate":  map[string]string{"type": "string", "format": "date"},
								"edate":  map[string]string{"type": "string", "format": "date"},
								"values": nullableNumbers,
							},
						}),
						"404": jsonResponse("No stored series", map[string]interface{}{"$ref": "#/components/schemas/Error"}),
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Health check",
					"description": "Check if the API is running and the database, when configured, is reachable",
					"responses": map[string]interface{}{
						"200": jsonResponse("API is healthy", map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"status":   map[string]string{"type": "string"},
								"database": map[string]string{"type": "string"},
							},
						}),
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
						"code":    map[string]string{"type": "integer"},
					},
				},
				"Station": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"sid":         map[string]string{"type": "string"},
						"element":     map[string]string{"type": "string"},
						"name":        map[string]string{"type": "string"},
						"state":       map[string]string{"type": "string"},
						"sid_code":    map[string]string{"type": "integer"},
						"sid_type":    map[string]string{"type": "string"},
						"lat":         map[string]string{"type": "number"},
						"lon":         map[string]string{"type": "number"},
						"valid_start": map[string]string{"type": "string", "format": "date-time"},
						"valid_end":   map[string]string{"type": "string", "format": "date-time"},
					},
				},
				"QueryReport": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query_id":          map[string]string{"type": "string", "format": "uuid"},
						"elem":              map[string]string{"type": "string"},
						"stations_matched":  map[string]string{"type": "integer"},
						"stations_resolved": map[string]string{"type": "integer"},
						"stations_skipped":  map[string]string{"type": "integer"},
						"persisted":         map[string]string{"type": "boolean"},
						"cached":            map[string]string{"type": "boolean"},
						"duration_ms":       map[string]string{"type": "integer"},
					},
				},
				"GridResult": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"report": map[string]interface{}{"$ref": "#/components/schemas/QueryReport"},
						"grid": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"kind":             map[string]string{"type": "string"},
								"include_leap_day": map[string]string{"type": "boolean"},
								"aggregator":       map[string]string{"type": "string"},
								"positions": map[string]interface{}{
									"type": "array",
									"items": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"month": map[string]string{"type": "integer"},
											"day":   map[string]string{"type": "integer"},
										},
									},
								},
								"columns": map[string]interface{}{
									"type": "array",
									"items": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"year":   map[string]string{"type": "integer"},
											"values": nullableNumbers,
										},
									},
								},
								"coverage_gaps": map[string]string{"type": "integer"},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
