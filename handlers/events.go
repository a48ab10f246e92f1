package handlers

import (
	"encoding/json"
	"log"

	"partypick-backend/mq"
)

// 全局消息队列适配器，由main在启动时注入
var mqAdapter *mq.MQAdapter

// InitHandler 注入消息队列适配器
func InitHandler(adapter *mq.MQAdapter) {
	mqAdapter = adapter
}

// 广播事件类型常量
const (
	EventConnected               = "connected"
	EventVibeAdded               = "vibe_added"
	EventRestaurantsUpdated      = "restaurants_updated"
	EventVotingCandidatesUpdated = "voting_candidates_updated"
	EventVotingVoteUpdated       = "voting_vote_updated"
)

// PublishPartyEvent 发布一个派对事件。Redis MQ可用时异步投递，
// 否则直接进程内分发给SSE和WebSocket客户端。
func PublishPartyEvent(partyCode string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("序列化派对事件失败: %v", err)
		return
	}

	if mqAdapter != nil && mqAdapter.IsInitialized() {
		if err := mqAdapter.SendPartyEvent(partyCode, data); err != nil {
			log.Printf("事件入队失败，改为直接分发: %v", err)
			DeliverPartyEvent(partyCode, data)
		}
		return
	}

	DeliverPartyEvent(partyCode, data)
}

// DeliverPartyEvent 将事件分发给某个派对的所有实时连接。
// MQ消费者和直接分发路径都走这里。
func DeliverPartyEvent(partyCode string, event json.RawMessage) error {
	BroadcastSSEUpdate(partyCode, event)
	BroadcastWSUpdate(partyCode, event)
	return nil
}
