package elastic

// indexMapping declares the entity index: status as a nested type with
// keyword locale/status/state, date-formatted timestamps, an open object
// map for attribute fields, and a folding analyzer that strips diacritics
// while preserving the original tokens for full-text search.
const indexMapping = `{
  "settings": {
    "analysis": {
      "filter": {
        "ascii_folding_preserve": {
          "type": "asciifolding",
          "preserve_original": true
        }
      },
      "analyzer": {
        "folding": {
          "tokenizer": "standard",
          "filter": ["lowercase", "ascii_folding_preserve"]
        }
      }
    }
  },
  "mappings": {
    "dynamic_templates": [
      {
        "field_strings": {
          "path_match": "fields.*",
          "match_mapping_type": "string",
          "mapping": {
            "type": "text",
            "analyzer": "folding",
            "fields": {
              "exact": {"type": "keyword", "ignore_above": 256}
            }
          }
        }
      }
    ],
    "properties": {
      "id": {"type": "keyword"},
      "entity_type_id": {"type": "keyword"},
      "attribute_set_id": {"type": "keyword"},
      "localized": {"type": "boolean"},
      "localized_workflow": {"type": "boolean"},
      "created_at": {"type": "date"},
      "updated_at": {"type": "date"},
      "status": {
        "type": "nested",
        "properties": {
          "status": {"type": "keyword"},
          "locale": {"type": "keyword"},
          "state": {"type": "keyword"},
          "scheduled_at": {"type": "date"},
          "created_at": {"type": "date"},
          "updated_at": {"type": "date"}
        }
      },
      "fields": {"type": "object", "dynamic": true}
    }
  }
}`
