package config

// ProjectDir holds the project config, state, browser profile and inbox.
const ProjectDir = ".tickettrail"

// DefaultConfigYAML is written by `tickettrail init`.
const DefaultConfigYAML = `# TicketTrail configuration
#
# Values not specified here use built-in defaults. Every key can be
# overridden with an environment variable, e.g. TICKETTRAIL_SHEETS_SPREADSHEET_ID.

log:
  level: info        # debug, info, warn, error
  format: auto       # auto, text, json

state:
  backend: sqlite    # sqlite or json
  path: .tickettrail/state/state.db
  lock_path: .tickettrail/state/tickettrail.lock

sheets:
  spreadsheet_id: ""           # required
  credentials_file: ""         # service account JSON; empty uses application default credentials
  max_retries: 4
  sheet_cache_ttl: 1m
  rate_limit:
    max_tokens: 10
    refill_rate: 1             # requests per second

browser:
  headless: false              # the ticketing login happens in this window
  user_data_dir: .tickettrail/browser
  navigation_timeout: 30s

ticketing:
  list_urls:
    support: https://crm.example.com/crm/type/163/list/category/0/
    installation: https://crm.example.com/crm/type/188/list/category/0/
    relocation: https://crm.example.com/crm/type/190/list/category/0/
  search_wait: 8s
  results_wait: 3s

# Spreadsheet columns per record type. Marker columns must be unique.
mapping:
  support:
    id: C
    marker: Z
    ticket_id: D
    created: E
    escalated: F
    resolved: G
  installation:
    id: K
    marker: AA
    created: L
    escalated: M
    resolved: N
  relocation:
    id: S
    marker: AB
    created: T
    escalated: U
    secondary_escalated: V
    elapsed: G

extractor:
  max_scan_time: 20s
  stable_checks: 3
  poll_interval: 500ms
  timezone: ""                 # IANA name; empty uses local time

writer:
  max_attempts: 5
  settle_delay: 1s
  retry_delay: 2s              # multiplied by the attempt number

recovery:
  threshold: 3
  window: 1h

orchestrator:
  debounce: 10s
  idle_poll: 2s
  error_backoff: 5s

api:
  enabled: true
  listen: 127.0.0.1:8765

inbox:
  enabled: false
  dir: .tickettrail/inbox

telemetry:
  enabled: false
  interval: 1m

clipboard:
  copy_external_id: false
`
