package outbox

const timeEntryCreatedSchema = `{
  "type": "object",
  "title": "TimeEntryCreated",
  "properties": {
    "entry_id": {"type": "string"},
    "timer_id": {"type": "string"},
    "organization_id": {"type": "string"},
    "user_id": {"type": "string"},
    "project_id": {"type": "string"},
    "task_id": {"type": "string"},
    "start_time": {"type": "string", "format": "date-time"},
    "end_time": {"type": "string", "format": "date-time"},
    "duration_min": {"type": "integer", "minimum": 0},
    "is_billable": {"type": "boolean"},
    "is_approved": {"type": "boolean"},
    "source": {"type": "string", "enum": ["timer", "auto_stop"]}
  },
  "required": ["entry_id", "timer_id", "organization_id", "user_id", "start_time", "end_time", "duration_min", "is_billable", "is_approved", "source"],
  "additionalProperties": false
}`

const notificationRequestedSchema = `{
  "type": "object",
  "title": "NotificationRequested",
  "properties": {
    "notification_id": {"type": "string"},
    "organization_id": {"type": "string"},
    "user_id": {"type": "string"},
    "type": {"type": "string"},
    "title": {"type": "string"},
    "message": {"type": "string"},
    "data": {"type": "object"},
    "send_email": {"type": "boolean"},
    "send_push": {"type": "boolean"},
    "requested_at": {"type": "string", "format": "date-time"}
  },
  "required": ["notification_id", "organization_id", "user_id", "type", "title", "message", "send_email", "send_push", "requested_at"],
  "additionalProperties": false
}`
