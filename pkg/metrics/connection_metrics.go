// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	connectionMetricSubsystem = "connection"
	gatewayMetricSubsystem    = "gateway"

	// EvictedEntitySession 与 EvictedEntityRoom 为 evictions_total 的 entity 标签取值。
	EvictedEntitySession = "session"
	EvictedEntityRoom    = "room"
)

var (
	connectionMetricsRegisterOnce sync.Once
	gatewayMetricsRegisterOnce    sync.Once

	ConnectionSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: connHubNamespace,
		Subsystem: connectionMetricSubsystem,
		Name:      "sessions",
		Help:      "当前存活的会话数量",
	})

	ConnectionTabs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: connHubNamespace,
		Subsystem: connectionMetricSubsystem,
		Name:      "tabs",
		Help:      "当前登记的标签页数量",
	})

	ConnectionRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: connHubNamespace,
		Subsystem: connectionMetricSubsystem,
		Name:      "rooms",
		Help:      "当前至少有一个会话加入的房间数量",
	})

	ConnectionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: connHubNamespace,
		Subsystem: connectionMetricSubsystem,
		Name:      "events_total",
		Help:      "按类型统计的已发布事件数量",
	}, []string{eventKindLabelName})

	ConnectionObserverFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: connHubNamespace,
		Subsystem: connectionMetricSubsystem,
		Name:      "observer_failures_total",
		Help:      "观察者处理事件时返回错误或 panic 的次数",
	})

	ConnectionEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: connHubNamespace,
		Subsystem: connectionMetricSubsystem,
		Name:      "evictions_total",
		Help:      "清理任务移除的会话与房间数量",
	}, []string{entityLabelName})

	ConnectionLeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: connHubNamespace,
		Subsystem: connectionMetricSubsystem,
		Name:      "leader_changes_total",
		Help:      "会话 leader 变更次数",
	})

	ConnectionSweepLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: connHubNamespace,
		Subsystem: connectionMetricSubsystem,
		Name:      "sweep_latency",
		Help:      "单次清理任务耗时（毫秒）",
		Buckets:   buckets,
	})

	GatewayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: connHubNamespace,
		Subsystem: gatewayMetricSubsystem,
		Name:      "connections",
		Help:      "当前打开的 WebSocket 连接数量",
	})

	GatewayMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: connHubNamespace,
		Subsystem: gatewayMetricSubsystem,
		Name:      "messages_total",
		Help:      "按消息类型统计的入站消息数量",
	}, []string{messageTypeLabelName})
)

// RegisterConnectionMetrics 将连接管理相关的指标注册到 Prometheus Registry 中。
func RegisterConnectionMetrics(registry prometheus.Registerer) {
	connectionMetricsRegisterOnce.Do(func() {
		registry.MustRegister(ConnectionSessions)
		registry.MustRegister(ConnectionTabs)
		registry.MustRegister(ConnectionRooms)
		registry.MustRegister(ConnectionEventsTotal)
		registry.MustRegister(ConnectionObserverFailures)
		registry.MustRegister(ConnectionEvictionsTotal)
		registry.MustRegister(ConnectionLeaderChanges)
		registry.MustRegister(ConnectionSweepLatency)
	})
}

// RegisterGatewayMetrics 将网关相关的指标注册到 Prometheus Registry 中。
func RegisterGatewayMetrics(registry prometheus.Registerer) {
	gatewayMetricsRegisterOnce.Do(func() {
		registry.MustRegister(GatewayConnections)
		registry.MustRegister(GatewayMessagesTotal)
	})
}
