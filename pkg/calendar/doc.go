// Package calendar renders the upgrade schedule as an iCalendar feed so
// operators can subscribe to maintenance windows.
//
// Render emits one VEVENT per open entry (pending or approved), spanning
// the entry's window, with a display alarm 30 minutes before the start.
// Completed and cancelled entries are left out. Writer regenerates the
// file with an atomic replace, so a calendar client polling the path never
// sees a partial document.
package calendar
