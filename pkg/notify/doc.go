/*
Package notify delivers operator notifications to Discord webhooks and
Telegram chats.

A Notifier subscribes to the events broker and renders each event into a
Message. Issue and release events carry a dedupe key; with a Deduper
attached (the bbolt store in production) a key is delivered at most once
per cooldown, so a node that stays isolated does not page every tick.
Delivery failures are logged and reflected in the notifier's component
health but never block the monitoring loop.
*/
package notify
