package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getNodes 节点配置和最近一次健康检查结果
func (s *Server) getNodes(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusOK, gin.H{
			"nodes":   []gin.H{},
			"total":   0,
			"message": "未使用节点连接池",
		})
		return
	}

	if c.Query("check") == "true" {
		if err := s.pool.CheckHealth(c.Request.Context()); err != nil {
			s.logger.Warnf("节点健康检查失败: %v", err)
		}
	}

	stats := s.pool.GetStats()
	nodes := make([]gin.H, 0, len(stats))
	current := ""
	if conn := s.pool.Current(); conn != nil {
		current = conn.Node.Name
	}
	for _, n := range stats {
		node := gin.H{
			"name":      n.Name,
			"url":       n.URL,
			"priority":  n.Priority,
			"available": n.IsHealthy,
			"current":   n.Name == current,
		}
		if !n.LastCheck.IsZero() {
			node["last_check"] = n.LastCheck
		}
		if n.LastError != "" {
			node["last_error"] = n.LastError
		}
		nodes = append(nodes, node)
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"total": len(nodes),
	})
}

// getConfig 当前生效的配置，不包含合约ABI
func (s *Server) getConfig(c *gin.Context) {
	if s.config == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "配置未初始化"})
		return
	}

	deployments := make([]gin.H, 0)
	if s.config.Contract != nil {
		for _, d := range s.config.Contract.Deployments {
			deployments = append(deployments, gin.H{
				"network_id": d.NetworkID,
				"address":    d.Address,
			})
		}
	}

	body := gin.H{
		"deployments": deployments,
		"workflow":    s.config.Workflow,
	}
	if s.config.Blockchain != nil {
		body["nodes"] = s.config.Blockchain.Nodes
	}
	if s.config.Output != nil {
		body["output_format"] = s.config.Output.Format
	}
	if s.config.Journal != nil {
		body["journal_enabled"] = s.config.Journal.Enabled
	}
	c.JSON(http.StatusOK, body)
}
