// Package metricshelper 提供指标注册与标签切片复用的辅助工具
package metricshelper

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// RegisterCollectors 把收集器注册到注册器中,忽略重复注册错误,
// 其他错误触发 panic
// 参数:
//   - reg: prometheus.Registerer 注册器实例
//   - collectors: ...prometheus.Collector 一个或多个收集器
func RegisterCollectors(reg prometheus.Registerer, collectors ...prometheus.Collector) {
	for _, c := range collectors {
		err := reg.Register(c)
		if err != nil {
			if ok := errors.As(err, &prometheus.AlreadyRegisteredError{}); !ok {
				panic(err)
			}
		}
	}
}
