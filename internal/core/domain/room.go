package domain

import "strings"

// StreamKind distinguishes the producers a room can own. At most one live
// producer exists per (room, kind).
type StreamKind string

const (
	StreamLogs  StreamKind = "logs"
	StreamStats StreamKind = "stats"
)

// Room name constructors. A room is just a string key; it exists only while
// the broadcaster holds subscribers or a session for it.

func ContainerLogsRoom(containerID string) string {
	return "container_logs_" + containerID
}

func ContainerStatsRoom(containerID string) string {
	return "container_stats_" + containerID
}

func OperationRoom(operationID string) string {
	return "operation_" + operationID
}

func ExecRoom(containerID string) string {
	return "exec_" + containerID
}

func ImageRoom(imageName string) string {
	return "docker_image_" + strings.ReplaceAll(imageName, ":", "_")
}

func ComposeRoom(configID string) string {
	return "docker_config_" + configID
}

// StreamRoom returns the canonical room for a stream kind and target.
func StreamRoom(kind StreamKind, containerID string) string {
	if kind == StreamStats {
		return ContainerStatsRoom(containerID)
	}
	return ContainerLogsRoom(containerID)
}
