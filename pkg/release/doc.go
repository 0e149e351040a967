/*
Package release discovers upstream releases of the node binaries.

GitHub implements Source against the GitHub REST API:

	GET /repos/{repo}/releases/latest
	GET /repos/{repo}/releases?per_page=N
	GET /repos/{repo}/releases/tags/{tag}

Results of Latest and List are cached for CacheTTL (5 minutes) under
separate keys. Requests for a single repository are spaced at least
Interval apart with a token bucket; callers wait rather than fail.

Only linux assets for the host architecture are kept (amd64 also matches
x86_64, arm64 also matches aarch64). When a release ships a sha256sum
listing, the digest of the selected asset is copied into Version.Checksum
so the upgrade can verify the download.
*/
package release
