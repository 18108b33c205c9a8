package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "Caseroute",
    "description": "Case routing, queue movement and countersigning for licensing cases",
    "version": "1.0"
  },
  "basePath": "/",
  "paths": {
    "/api/cases/{id}": {"get": {"tags": ["cases"], "summary": "Case with its queues and assignments"}},
    "/api/cases/{id}/movements": {"get": {"tags": ["cases"], "summary": "Queue movement history with time on queue"}},
    "/api/cases/{id}/audit": {"get": {"tags": ["cases"], "summary": "Audit trail"}},
    "/api/cases/{id}/status": {"post": {"tags": ["workflow"], "summary": "Change case status and re-route"}},
    "/api/cases/{id}/queues/{queue_id}/move-forward": {"post": {"tags": ["workflow"], "summary": "Done with one queue; next tier picks the case up"}},
    "/api/queues/{queue_id}/bulk-approve": {"post": {"tags": ["workflow"], "summary": "Move many cases forward off one queue"}},
    "/api/cases/{id}/countersign": {"post": {"tags": ["countersign"], "summary": "Record countersign decisions"}},
    "/api/cases/{id}/amendments": {"post": {"tags": ["amendments"], "summary": "Create or fetch the exporter amendment"}},
    "/api/cases/{id}/route": {"post": {"tags": ["admin"], "summary": "Run a routing pass"}}
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
